package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/skygenesisenterprise/aethergate"
	"github.com/skygenesisenterprise/aethergate/internal/appconfig"
)

func newConfigCmd(a *app) *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the merged configuration with secrets redacted",
		RunE: func(_ *cobra.Command, _ []string) error {
			s, v, err := appconfig.Load(appconfig.Options{ConfigFile: a.cfgFile, EnvFile: a.envFile})
			if err != nil {
				return err
			}
			if validate {
				if err := s.Validate(); err != nil {
					return fmt.Errorf("%w: %w", aethergate.ErrConfigInvalid, err)
				}
				if _, err := aethergate.NormalizeConfig(s.Config()); err != nil {
					return err
				}
			}

			enc := yaml.NewEncoder(a.stdout)
			enc.SetIndent(2)
			if err := enc.Encode(appconfig.Redacted(v)); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "fail when the configuration is invalid")
	return cmd
}
