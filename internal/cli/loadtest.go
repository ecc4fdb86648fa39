package cli

import (
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/skygenesisenterprise/aethergate/internal/loadtest"
)

func newLoadtestCmd(a *app) *cobra.Command {
	var (
		opts      loadtest.Options
		redisAddr string
	)

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure validation latency against an in-process identity service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := redisAddr
			if addr == "" {
				addr = os.Getenv("REDIS_ADDR")
			}
			if addr != "" {
				client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
				defer client.Close()
				opts.Redis = client
			}

			report, err := loadtest.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			report.Print(a.stdout)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Tokens, "tokens", 10000, "number of tokens to seed")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.Ops, "ops", 100000, "validations in the warm phase")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "redis address for the shared cache; REDIS_ADDR is used when empty")
	return cmd
}
