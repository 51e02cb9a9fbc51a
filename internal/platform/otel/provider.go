// Package otel configures OpenTelemetry tracing for tenancy processes.
package otel

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/tenantledger/internal/platform/config"
)

// Settings is the tracing configuration read from the environment.
type Settings struct {
	// Enabled is "false" to switch tracing off even with an endpoint set.
	Enabled     string  `env:"TENANCY_OTEL_ENABLED"`
	Endpoint    string  `env:"TENANCY_OTEL_ENDPOINT"`
	SampleRatio float64 `env:"TENANCY_OTEL_SAMPLE_RATIO" envDefault:"1" validate:"gte=0,lte=1"`
}

func (s Settings) active() bool {
	return strings.TrimSpace(s.Endpoint) != "" && !strings.EqualFold(s.Enabled, "false")
}

// sampler keeps parent decisions and samples root spans at SampleRatio.
func (s Settings) sampler() sdktrace.Sampler {
	if s.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRatio))
}

func noop(context.Context) error { return nil }

// Setup reads Settings from the environment and installs a global tracer
// provider for serviceName. Without an endpoint it registers nothing and
// spans go to the global no-op provider. The returned function flushes
// pending spans.
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	var settings Settings
	if err := config.Load(&settings); err != nil {
		return noop, fmt.Errorf("tracing config: %w", err)
	}
	return SetupWith(ctx, serviceName, settings)
}

// SetupWith is Setup with explicit settings.
func SetupWith(ctx context.Context, serviceName string, settings Settings) (func(context.Context) error, error) {
	if !settings.active() {
		return noop, nil
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(settings.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("trace exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, fmt.Errorf("trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(settings.sampler()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
