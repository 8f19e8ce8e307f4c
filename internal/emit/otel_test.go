package emit

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, *OTelEmitter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, NewOTelEmitter(otel.Tracer("test"))
}

func TestOTelEmitter_Emit(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		CrawlID: "crawl-001",
		Seq:     1,
		URL:     "https://example.com/",
		Msg:     "NODE_SCANNED",
		Meta: map[string]interface{}{
			"depth":  2,
			"status": 200,
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Name != "NODE_SCANNED" {
		t.Errorf("span name = %q, want %q", span.Name, "NODE_SCANNED")
	}

	attrs := attributeMap(span.Attributes)
	if got := attrs["crawl.id"]; got != "crawl-001" {
		t.Errorf("crawl.id = %v, want %q", got, "crawl-001")
	}
	if got := attrs["crawl.seq"]; got != int64(1) {
		t.Errorf("crawl.seq = %v, want %d", got, 1)
	}
	if got := attrs["crawl.url"]; got != "https://example.com/" {
		t.Errorf("crawl.url = %v, want %q", got, "https://example.com/")
	}
	if got := attrs["crawl.depth"]; got != int64(2) {
		t.Errorf("crawl.depth = %v, want %d", got, 2)
	}
	if got := attrs["crawl.status"]; got != int64(200) {
		t.Errorf("crawl.status = %v, want %d", got, 200)
	}

	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

func TestOTelEmitter_EmitWithError(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		CrawlID: "crawl-001",
		Seq:     3,
		URL:     "https://example.com/broken",
		Msg:     "ERROR_OCCURRED",
		Meta: map[string]interface{}{
			"error": "fetch failed: connection refused",
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Status.Code != codes.Error {
		t.Errorf("status code = %v, want %v", span.Status.Code, codes.Error)
	}
	if span.Status.Description != "fetch failed: connection refused" {
		t.Errorf("status description = %q", span.Status.Description)
	}
	if len(span.Events) == 0 {
		t.Error("expected recorded error event, got none")
	}
}

func TestOTelEmitter_EmitBatch(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	events := []Event{
		{CrawlID: "crawl-001", Seq: 1, Msg: "CRAWL_STARTED"},
		{CrawlID: "crawl-001", Seq: 2, URL: "https://example.com/", Msg: "NODE_SCANNED"},
		{CrawlID: "crawl-001", Seq: 3, Msg: "CRAWL_COMPLETED"},
	}
	if err := emitter.EmitBatch(context.Background(), events); err != nil {
		t.Fatalf("EmitBatch failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	wantNames := []string{"CRAWL_STARTED", "NODE_SCANNED", "CRAWL_COMPLETED"}
	for i, span := range spans {
		if span.Name != wantNames[i] {
			t.Errorf("span[%d] name = %q, want %q", i, span.Name, wantNames[i])
		}
		if !span.EndTime.After(span.StartTime) {
			t.Errorf("span[%d] was not ended", i)
		}
	}
}

func TestOTelEmitter_MetadataTypes(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		CrawlID: "crawl-001",
		Seq:     1,
		Msg:     "PAGE_CRAWLED",
		Meta: map[string]interface{}{
			"title":    "Example Domain",
			"pages":    42,
			"bytes":    int64(99),
			"avg":      3.14,
			"redirect": true,
			"elapsed":  250 * time.Millisecond,
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attributeMap(spans[0].Attributes)

	if got := attrs["crawl.title"]; got != "Example Domain" {
		t.Errorf("title = %v", got)
	}
	if got := attrs["crawl.pages"]; got != int64(42) {
		t.Errorf("pages = %v", got)
	}
	if got := attrs["crawl.bytes"]; got != int64(99) {
		t.Errorf("bytes = %v", got)
	}
	if got := attrs["crawl.avg"]; got != 3.14 {
		t.Errorf("avg = %v", got)
	}
	if got := attrs["crawl.redirect"]; got != true {
		t.Errorf("redirect = %v", got)
	}
	if got := attrs["crawl.elapsed_ms"]; got != int64(250) {
		t.Errorf("elapsed_ms = %v", got)
	}
}

func TestOTelEmitter_NilMeta(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{CrawlID: "crawl-001", Seq: 1, Msg: "CRAWL_STARTED", Meta: nil})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attributeMap(spans[0].Attributes)
	if got := attrs["crawl.id"]; got != "crawl-001" {
		t.Errorf("crawl.id = %v, want %q", got, "crawl-001")
	}
}

func TestOTelEmitter_Flush(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := NewOTelEmitter(otel.Tracer("test"))
	emitter.Emit(Event{CrawlID: "crawl-001", Seq: 1, Msg: "CRAWL_STARTED"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := emitter.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Errorf("expected 1 span after flush, got %d", len(spans))
	}
}

// attributeMap converts span attributes to a map for assertions.
func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{})
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}
