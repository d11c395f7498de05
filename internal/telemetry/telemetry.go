// Package telemetry wires OpenTelemetry metrics for the bot.
//
// Metrics are off by default and the global meter provider stays a no-op.
// When enabled, instruments are exported to stdout at the end of each
// collection interval and flushed on Shutdown.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "destalinator"

// Shutdown flushes pending metrics. It is a no-op when telemetry is disabled.
type Shutdown func(context.Context) error

// Init installs the global meter provider.
func Init(ctx context.Context, enabled bool, version string) (Shutdown, error) {
	if !enabled {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(instrumentationScope),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	exp, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(time.Minute))),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Meter returns a meter scoped to the given name (or the module scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}
