// Package telemetry installs the OpenTelemetry meter provider that backs the
// engine's counters (deal outcomes, decision fallbacks, notification failures).
// Without an endpoint the global no-op provider stays in place.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures metric export.
type Config struct {
	ServiceName  string
	Environment  string
	OTLPEndpoint string        // e.g. "localhost:4317"; empty disables export
	Insecure     bool          // plaintext gRPC (dev only)
	Interval     time.Duration // export period, default 15s
}

// Shutdown flushes and stops the provider.
type Shutdown func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs a global meter provider exporting over OTLP/gRPC.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (Shutdown, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OTLPEndpoint == "" {
		logger.Info("telemetry export disabled")
		return noopShutdown, nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry.Setup: metric exporter: %w", err)
	}

	shutdown, err := Install(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval)), cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("telemetry export enabled", "endpoint", cfg.OTLPEndpoint, "interval", cfg.Interval)
	return shutdown, nil
}

// Install sets a global meter provider reading through reader.
func Install(reader sdkmetric.Reader, cfg Config) (Shutdown, error) {
	if reader == nil {
		return nil, errors.New("telemetry.Install: nil reader")
	}
	name := cfg.ServiceName
	if name == "" {
		name = "dealengine"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry.Install: resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
