package gateway

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/skygenesisenterprise/aethergate/internal/appconfig"
	"github.com/skygenesisenterprise/aethergate/metrics/export/internaldefs"
	otelexport "github.com/skygenesisenterprise/aethergate/metrics/export/otel"
)

// MeterName scopes every instrument the gateway registers.
const MeterName = "github.com/skygenesisenterprise/aethergate"

// OpenMeterProvider builds a push pipeline for the configured exporter. It
// returns nil when no exporter is configured. stdout output goes to w.
func OpenMeterProvider(ctx context.Context, s appconfig.OTelSettings, w io.Writer) (*sdkmetric.MeterProvider, error) {
	var (
		exp sdkmetric.Exporter
		err error
	)
	switch s.Exporter {
	case "":
		return nil, nil
	case appconfig.OTelExporterStdout:
		exp, err = stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithoutTimestamps())
	case appconfig.OTelExporterOTLP:
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(s.Endpoint)}
		if s.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err = otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown otel exporter %q", s.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s metric exporter: %w", s.Exporter, err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if s.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(s.Interval))
	}
	res := resource.NewSchemaless(attribute.String("service.name", s.ServiceName))

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
		sdkmetric.WithResource(res),
	), nil
}

// instrument registers the server's metrics on the provider's meter.
func instrument(mp *sdkmetric.MeterProvider, src internaldefs.Source) (*otelexport.Exporter, error) {
	return otelexport.NewExporter(mp.Meter(MeterName), src)
}
