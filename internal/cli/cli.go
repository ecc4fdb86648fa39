// Package cli implements the aethergate command tree.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate/internal/appconfig"
	"github.com/skygenesisenterprise/aethergate/internal/logging"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

type app struct {
	cfgFile string
	envFile string
	stdout  io.Writer
	stderr  io.Writer
}

func (a *app) load() (*appconfig.Settings, error) {
	s, _, err := appconfig.Load(appconfig.Options{ConfigFile: a.cfgFile, EnvFile: a.envFile})
	return s, err
}

func (a *app) logger(s *appconfig.Settings) (*zap.Logger, func(), error) {
	return logging.New(s.Logging())
}

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "aethergate",
		Short: "Authenticating reverse proxy for the Aether identity service",
		Long: `aethergate validates bearer tokens against the Aether identity service,
enforces role, MFA and context policy, and forwards admitted requests to an
upstream application with the caller's identity in X-Aether-* headers.

Settings come from --config, a .env file and AETHERGATE_* variables.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file loaded before reading AETHERGATE_* variables (default .env)")

	root.AddCommand(
		newServeCmd(a),
		newConfigCmd(a),
		newCheckTokenCmd(a),
		newLoadtestCmd(a),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
