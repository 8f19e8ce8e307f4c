package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each Event into an immediately-ended span named after
// event.Msg, carrying crawl id, sequence, URL, and metadata as attributes.
// Used to trace individual node scans and plugin stages against a tracing
// backend (Jaeger, Zipkin, etc.) configured by the embedding application.
type OTelEmitter struct {
	tracer trace.Tracer
}

func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	o.emitOne(context.Background(), event)
}

func (o *OTelEmitter) emitOne(ctx context.Context, event Event) {
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("crawl.id", event.CrawlID),
		attribute.Int("crawl.seq", event.Seq),
		attribute.String("crawl.url", event.URL),
	)
	for key, value := range event.Meta {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String("crawl."+key, v))
		case int:
			span.SetAttributes(attribute.Int("crawl."+key, v))
		case int64:
			span.SetAttributes(attribute.Int64("crawl."+key, v))
		case float64:
			span.SetAttributes(attribute.Float64("crawl."+key, v))
		case bool:
			span.SetAttributes(attribute.Bool("crawl."+key, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64("crawl."+key+"_ms", int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String("crawl."+key, fmt.Sprintf("%v", v)))
		}
	}
	if errMsg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		o.emitOne(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
