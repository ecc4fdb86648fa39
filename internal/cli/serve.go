package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/skygenesisenterprise/aethergate/internal/gateway"
)

func newServeCmd(a *app) *cobra.Command {
	var listen, upstream, otelExporter string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.load()
			if err != nil {
				return err
			}
			if listen != "" {
				s.Listen = listen
			}
			if upstream != "" {
				s.Upstream = upstream
			}
			if otelExporter != "" {
				s.Metrics.OTel.Exporter = otelExporter
			}

			log, closeLog, err := a.logger(s)
			if err != nil {
				return err
			}
			defer closeLog()

			rt, err := gateway.Assemble(s, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			ln, err := net.Listen("tcp", s.Listen)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", s.Listen, err)
			}
			return rt.Serve(cmd.Context(), ln)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides the listen setting")
	cmd.Flags().StringVar(&upstream, "upstream", "", "upstream URL, overrides the upstream setting")
	cmd.Flags().StringVar(&otelExporter, "otel-exporter", "", "push metrics through OpenTelemetry: stdout or otlp")
	return cmd
}
