package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate"
)

// ErrTokenRejected is returned when check-token finds the token invalid or
// lacking the requested roles.
var ErrTokenRejected = errors.New("token rejected")

func newCheckTokenCmd(a *app) *cobra.Command {
	var roles, perms []string

	cmd := &cobra.Command{
		Use:   "check-token TOKEN",
		Short: "Validate a token and print the resolved user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.load()
			if err != nil {
				return err
			}
			cfg := s.Config()
			cfg.Cache.Disabled = true

			srv, err := aethergate.New().WithConfig(cfg).WithLogger(zap.NewNop()).Build()
			if err != nil {
				return err
			}
			defer srv.Close()

			res := srv.ValidateToken(cmd.Context(), args[0])
			if !res.Valid {
				return fmt.Errorf("%w: %s", ErrTokenRejected, res.Error)
			}

			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(struct {
				User      *aethergate.UserContext `json:"user"`
				ExpiresAt string                  `json:"expiresAt"`
			}{res.User, res.ExpiresAt.UTC().Format(time.RFC3339)}); err != nil {
				return err
			}

			if len(roles) > 0 && !srv.HasRole(res.User, roles) {
				return fmt.Errorf("%w: none of roles %v", ErrTokenRejected, roles)
			}
			if len(perms) > 0 && !srv.HasPermission(res.User, perms) {
				return fmt.Errorf("%w: missing one of permissions %v", ErrTokenRejected, perms)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "require at least one of these roles")
	cmd.Flags().StringSliceVar(&perms, "permission", nil, "require all of these permissions")
	return cmd
}
