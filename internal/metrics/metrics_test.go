package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestScopedRecorderUpdatesLabeledMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	scoped := m.ForCrawl("crawl-001")

	scoped.IncPagesCrawled()
	scoped.IncPagesCrawled()
	scoped.IncDeadLetters()
	scoped.IncRetries()
	scoped.SetQueueDepth(7)

	if got := testutil.ToFloat64(m.pagesCrawled.WithLabelValues("crawl-001")); got != 2 {
		t.Errorf("pages_crawled = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.deadLetters.WithLabelValues("crawl-001")); got != 1 {
		t.Errorf("dead_letters = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.retries.WithLabelValues("crawl-001", "fetch")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 7 {
		t.Errorf("queue_depth = %v, want 7", got)
	}
}

func TestDisableStopsRecording(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Disable()

	m.IncPagesCrawled("crawl-001")
	m.RecordFetchLatency("crawl-001", 50*time.Millisecond, "200")
	m.SetQueueDepth(3)

	if got := testutil.ToFloat64(m.pagesCrawled.WithLabelValues("crawl-001")); got != 0 {
		t.Errorf("pages_crawled = %v after Disable, want 0", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 0 {
		t.Errorf("queue_depth = %v after Disable, want 0", got)
	}

	m.Enable()
	m.IncPagesCrawled("crawl-001")
	if got := testutil.ToFloat64(m.pagesCrawled.WithLabelValues("crawl-001")); got != 1 {
		t.Errorf("pages_crawled = %v after Enable, want 1", got)
	}
}
