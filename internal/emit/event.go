// Package emit provides pluggable observability for the crawl engine: a
// single Event shape fanned out to log, tracing, or in-memory sinks so the
// coordinator never talks to a concrete logging library directly.
package emit

// Event is a single progress or diagnostic event produced during a crawl.
// Msg carries one of the coordinator's named progress events (NODE_CREATED,
// NODE_SCAN_STARTED, NODE_SCANNED, PAGE_CRAWLED, ERROR_OCCURRED,
// CRAWL_STARTED, CRAWL_COMPLETED, SITEMAP_CRAWL_*) or a plugin/transport
// diagnostic message.
type Event struct {
	// CrawlID identifies the crawl run that produced this event.
	CrawlID string

	// Seq is a monotonically increasing sequence number within the crawl.
	Seq int

	// URL is the node or request URL this event concerns, if any.
	URL string

	// Msg names the event, e.g. "NODE_SCANNED" or "ERROR_OCCURRED".
	Msg string

	// Meta carries event-specific structured fields: status codes,
	// durations, error strings, depth, counts.
	Meta map[string]interface{}
}
