package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"cluster-chaos/internal/config"
)

const instrumentationName = "cluster-chaos"

// Service owns the tracer provider for one process
type Service struct {
	config   config.TracingConfig
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
}

// NewService builds the exporter named in cfg and installs the provider
// globally. A disabled config yields a no-op tracer.
func NewService(cfg config.TracingConfig) (*Service, error) {
	if !cfg.Enabled {
		return &Service{
			config: cfg,
			tracer: noop.NewTracerProvider().Tracer(instrumentationName),
		}, nil
	}

	var (
		exporter trace.SpanExporter
		err      error
	)
	switch cfg.ExporterType {
	case "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithHeaders(cfg.OTLPHeaders)}
		if strings.Contains(cfg.OTLPEndpoint, "://") {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
		}
		client := otlptracehttp.NewClient(opts...)
		exporter, err = otlptrace.New(context.Background(), client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "console", "":
		exporter = NewConsoleExporter(os.Stdout)
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	return newService(cfg, exporter, true)
}

// NewWithExporter builds a service around exporter without touching the
// global provider. Spans are exported synchronously.
func NewWithExporter(cfg config.TracingConfig, exporter trace.SpanExporter) (*Service, error) {
	return newService(cfg, exporter, false)
}

func newService(cfg config.TracingConfig, exporter trace.SpanExporter, global bool) (*Service, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	samplingRatio := cfg.SamplingRatio
	if samplingRatio <= 0 {
		samplingRatio = 1.0
	}

	processor := trace.WithSyncer(exporter)
	if global {
		processor = trace.WithBatcher(exporter)
	}
	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		processor,
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(samplingRatio))),
	)

	if global {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	return &Service{
		config:   cfg,
		tracer:   tp.Tracer(instrumentationName),
		provider: tp,
	}, nil
}

func (s *Service) StartSpan(ctx context.Context, name string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	return s.tracer.Start(ctx, name, opts...)
}

// StartAction opens the root span of an action run
func (s *Service) StartAction(ctx context.Context, kind, actionID string) (context.Context, oteltrace.Span) {
	return s.StartSpan(ctx, "action."+kind,
		oteltrace.WithAttributes(
			attribute.String("chaos.action.kind", kind),
			attribute.String("chaos.action.id", actionID),
		),
	)
}

// StartStep opens a span for one step of an action, such as installing a
// fault rule or restarting a replica.
func (s *Service) StartStep(ctx context.Context, step string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return s.StartSpan(ctx, "step."+step, oteltrace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it
func End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceOperation runs fn inside a span named operationName
func (s *Service) TraceOperation(ctx context.Context, operationName string, fn func(context.Context, oteltrace.Span) error) error {
	ctx, span := s.StartSpan(ctx, operationName)
	err := fn(ctx, span)
	End(span, err)
	return err
}

func (s *Service) Close(ctx context.Context) error {
	if s.provider != nil {
		return s.provider.Shutdown(ctx)
	}
	return nil
}
