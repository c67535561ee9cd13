// Package telemetry wraps OpenTelemetry tracing for the decision pipeline:
// one span per non-exempt request, carrying the resolved policy, scope,
// and outcome as attributes.
package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "firewall"

// Config holds telemetry configuration.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint string `yaml:"endpoint"` // OTLP endpoint (e.g., "localhost:4317")
	Insecure bool   `yaml:"insecure"` // use insecure connection for OTLP
}

// Provider manages OpenTelemetry tracing for the pipeline.
type Provider struct {
	config   Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewProvider creates a Provider. A disabled or unrecognized exporter
// yields a Provider whose spans are created but never exported.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg, tracer: otel.Tracer(serviceName)}, nil
	}

	slog.Info("creating trace exporter", "type", cfg.Exporter)

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("OTLP exporter initialized", "endpoint", cfg.Endpoint)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		slog.Info("stdout trace exporter initialized")
	default:
		return &Provider{config: cfg, tracer: otel.Tracer(serviceName)}, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter), // sync exporter: avoids an extra background goroutine for a firewall that must stay lean
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		config:   cfg,
		tracer:   tp.Tracer(serviceName),
		provider: tp,
	}, nil
}

func createOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	ctx := context.Background()
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Tracer returns the underlying tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown gracefully shuts down the trace provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// Enabled reports whether spans are actually being exported.
func (p *Provider) Enabled() bool {
	return p.config.Enabled && p.provider != nil
}

// Span attributes for the decision pipeline.
const (
	AttrPolicy           = "firewall.policy"
	AttrScope            = "firewall.scope"
	AttrClientIP         = "firewall.client.ip"
	AttrBlocked          = "firewall.blocked"
	AttrPromoted         = "firewall.promoted"
	AttrAdaptiveDecision = "firewall.adaptive.decision"
	AttrRequestMethod    = "http.request.method"
	AttrRequestPath      = "url.path"
	AttrResponseCode     = "http.response.status_code"
)

// StartRequestSpan starts a span for one non-exempt request.
func (p *Provider) StartRequestSpan(ctx context.Context, method, path string, policy string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "firewall.decide",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrRequestMethod, method),
			attribute.String(AttrRequestPath, path),
			attribute.String(AttrPolicy, policy),
		),
	)
}

// AnnotateDecision records the outcome of a request on its span.
func AnnotateDecision(span trace.Span, scope string, blocked, promoted bool, adaptiveDecision string, statusCode int) {
	span.SetAttributes(
		attribute.String(AttrScope, scope),
		attribute.Bool(AttrBlocked, blocked),
		attribute.Bool(AttrPromoted, promoted),
		attribute.String(AttrAdaptiveDecision, adaptiveDecision),
		attribute.Int(AttrResponseCode, statusCode),
	)
}

// DefaultConfig returns telemetry disabled by default.
func DefaultConfig() Config {
	return Config{Enabled: false, Exporter: "none"}
}

// ConfigFromEnv layers standard OTEL_EXPORTER_OTLP_* environment variables
// on top of DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		cfg.Enabled = true
		cfg.Exporter = "otlp"
		cfg.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		cfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	}
	return cfg
}

// NoopProvider returns a Provider that creates spans but exports nothing.
func NoopProvider() *Provider {
	return &Provider{config: Config{Enabled: false}, tracer: otel.Tracer(serviceName + "-noop")}
}
