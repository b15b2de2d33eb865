package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name shared by the client packages.
const InstrumentationName = "github.com/rahl/studio"

// Tracer returns the package-wide tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// InitTracer configures a stdout tracer suitable for local development.
// When disabled it leaves the global no-op provider in place.
func InitTracer(ctx context.Context, serviceName string, enabled bool, logger zerolog.Logger) func(context.Context) error {
	return initTracer(ctx, serviceName, enabled, os.Stdout, logger)
}

func initTracer(_ context.Context, serviceName string, enabled bool, out io.Writer, logger zerolog.Logger) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !enabled {
		return noop
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry exporter init failed")
		return noop
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetTracerProvider(provider)

	return provider.Shutdown
}
