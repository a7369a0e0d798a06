// Package telemetry wires OpenTelemetry tracing for the heapshot tools.
//
// Tracing is off unless OTEL_ENABLED=true. When on, spans are exported over
// OTLP using the standard OTEL_* environment variables:
//
//	OTEL_SERVICE_NAME            service name (default: heapshot)
//	OTEL_SERVICE_VERSION         service version (default: unknown)
//	OTEL_EXPORTER_OTLP_ENDPOINT  collector endpoint
//	OTEL_EXPORTER_OTLP_PROTOCOL  grpc or http/protobuf (default: grpc)
//	OTEL_EXPORTER_OTLP_HEADERS   key=value pairs sent with every export
//	OTEL_EXPORTER_OTLP_INSECURE  skip TLS
//	OTEL_TRACES_SAMPLER          sampler name (default: always_on)
//	OTEL_TRACES_SAMPLER_ARG      sampler ratio
//	OTEL_RESOURCE_ATTRIBUTES     extra resource attributes
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	globalConfig *Config
	configOnce   sync.Once
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs the global tracer provider. With tracing disabled it leaves
// the default no-op provider in place.
func Init(ctx context.Context) (ShutdownFunc, error) {
	cfg := loadConfig()
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(buildResource(cfg)),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(newSampler(cfg.Sampler, cfg.SamplerArg)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Enabled reports whether tracing was requested through the environment.
func Enabled() bool {
	return loadConfig().Enabled
}

// GetConfig returns the environment configuration read on first use.
func GetConfig() *Config {
	return loadConfig()
}

func loadConfig() *Config {
	configOnce.Do(func() {
		globalConfig = LoadFromEnv()
	})
	return globalConfig
}
