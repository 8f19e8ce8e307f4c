// Package metrics wraps prometheus/client_golang for the crawl engine:
// gauges for in-flight work and queue depth, a histogram for fetch/scan
// latency, counters for retries, dead letters, and plugin failures.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Crawl exposes the metrics surface a Coordinator and Transport update
// during a run. All metrics are namespaced "crawlgraph".
type Crawl struct {
	inflightFetches prometheus.Gauge
	queueDepth      prometheus.Gauge

	fetchLatency *prometheus.HistogramVec

	retries      *prometheus.CounterVec
	deadLetters  *prometheus.CounterVec
	pluginErrors *prometheus.CounterVec
	pagesCrawled *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// New registers every metric with registry (use prometheus.NewRegistry()
// for test isolation, or prometheus.DefaultRegisterer for a process-wide
// instance).
func New(registry prometheus.Registerer) *Crawl {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Crawl{
		enabled: true,
		inflightFetches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "crawlgraph",
			Name:      "inflight_fetches",
			Help:      "Number of fetches currently in flight",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "crawlgraph",
			Name:      "scheduler_queue_depth",
			Help:      "Number of nodes waiting in the scheduler",
		}),
		fetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crawlgraph",
			Name:      "fetch_latency_ms",
			Help:      "Fetch duration in milliseconds",
			Buckets:   []float64{5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"crawl_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crawlgraph",
			Name:      "retries_total",
			Help:      "Retry attempts across all fetches",
		}, []string{"crawl_id", "reason"}),
		deadLetters: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crawlgraph",
			Name:      "dead_letters_total",
			Help:      "URLs that permanently failed and were dead-lettered",
		}, []string{"crawl_id"}),
		pluginErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crawlgraph",
			Name:      "plugin_errors_total",
			Help:      "Plugin invocations that returned an error and were skipped",
		}, []string{"crawl_id", "stage"}),
		pagesCrawled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crawlgraph",
			Name:      "pages_crawled_total",
			Help:      "Pages successfully scanned",
		}, []string{"crawl_id"}),
	}
}

func (c *Crawl) RecordFetchLatency(crawlID string, d time.Duration, status string) {
	if !c.isEnabled() {
		return
	}
	c.fetchLatency.WithLabelValues(crawlID, status).Observe(float64(d.Milliseconds()))
}

func (c *Crawl) IncRetries(crawlID, reason string) {
	if !c.isEnabled() {
		return
	}
	c.retries.WithLabelValues(crawlID, reason).Inc()
}

func (c *Crawl) IncDeadLetters(crawlID string) {
	if !c.isEnabled() {
		return
	}
	c.deadLetters.WithLabelValues(crawlID).Inc()
}

func (c *Crawl) IncPluginErrors(crawlID, stage string) {
	if !c.isEnabled() {
		return
	}
	c.pluginErrors.WithLabelValues(crawlID, stage).Inc()
}

func (c *Crawl) IncPagesCrawled(crawlID string) {
	if !c.isEnabled() {
		return
	}
	c.pagesCrawled.WithLabelValues(crawlID).Inc()
}

func (c *Crawl) SetQueueDepth(n int) {
	if !c.isEnabled() {
		return
	}
	c.queueDepth.Set(float64(n))
}

func (c *Crawl) SetInflightFetches(n int) {
	if !c.isEnabled() {
		return
	}
	c.inflightFetches.Set(float64(n))
}

// Scoped binds a Crawl to one crawl id, satisfying the coordinator's
// narrow MetricsRecorder contract (crawl.WithMetrics), whose methods
// carry no labels of their own.
type Scoped struct {
	m       *Crawl
	crawlID string
}

// ForCrawl returns a view of these metrics labeled with crawlID.
func (c *Crawl) ForCrawl(crawlID string) *Scoped {
	return &Scoped{m: c, crawlID: crawlID}
}

func (s *Scoped) IncPagesCrawled()    { s.m.IncPagesCrawled(s.crawlID) }
func (s *Scoped) IncRetries()         { s.m.IncRetries(s.crawlID, "fetch") }
func (s *Scoped) IncDeadLetters()     { s.m.IncDeadLetters(s.crawlID) }
func (s *Scoped) SetQueueDepth(n int) { s.m.SetQueueDepth(n) }

func (c *Crawl) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
}

func (c *Crawl) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

func (c *Crawl) isEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}
