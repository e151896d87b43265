package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
)

// ConsoleExporter writes one JSON line per span. Meant for development.
type ConsoleExporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleExporter(w io.Writer) *ConsoleExporter {
	return &ConsoleExporter{w: w}
}

type spanRecord struct {
	TraceID    string                 `json:"trace_id"`
	SpanID     string                 `json:"span_id"`
	ParentID   string                 `json:"parent_id,omitempty"`
	Name       string                 `json:"name"`
	Duration   string                 `json:"duration"`
	Status     string                 `json:"status"`
	Message    string                 `json:"message,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Events     []string               `json:"events,omitempty"`
}

func (ce *ConsoleExporter) ExportSpans(ctx context.Context, spans []trace.ReadOnlySpan) error {
	ce.mu.Lock()
	defer ce.mu.Unlock()

	enc := json.NewEncoder(ce.w)
	for _, span := range spans {
		rec := spanRecord{
			TraceID:    span.SpanContext().TraceID().String(),
			SpanID:     span.SpanContext().SpanID().String(),
			Name:       span.Name(),
			Duration:   span.EndTime().Sub(span.StartTime()).String(),
			Status:     span.Status().Code.String(),
			Message:    span.Status().Description,
			Attributes: attributesToMap(span.Attributes()),
		}
		if span.Parent().IsValid() {
			rec.ParentID = span.Parent().SpanID().String()
		}
		for _, ev := range span.Events() {
			rec.Events = append(rec.Events, ev.Name)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to write span: %w", err)
		}
	}
	return nil
}

func (ce *ConsoleExporter) Shutdown(ctx context.Context) error {
	return nil
}

func attributesToMap(attrs []attribute.KeyValue) map[string]interface{} {
	if len(attrs) == 0 {
		return nil
	}
	result := make(map[string]interface{}, len(attrs))
	for _, attr := range attrs {
		result[string(attr.Key)] = attr.Value.AsInterface()
	}
	return result
}
