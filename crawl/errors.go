// Package crawl implements the crawl orchestration engine: the node
// lifecycle, the graph, filters and rules, the priority scheduler, the
// link processor, and the coordinator that drives them to completion.
package crawl

import (
	"errors"

	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// Sentinel errors for conditions with no further context.
var (
	// ErrNotYetScanned is returned by HTML-stage reads (ContentHash)
	// invoked while the node is still at URL_STAGE.
	ErrNotYetScanned = errors.New("node not yet scanned")

	// ErrInvalidRetryPolicy reports a retry policy with a non-positive
	// attempt count or delay bound.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrHashNondeterministic is raised when a ContentHashStrategy
	// produces two different digests for the same input on the
	// determinism self-check.
	ErrHashNondeterministic = errors.New("content hash strategy is not deterministic")

	// ErrInvalidHash is raised when a ContentHashStrategy's output is not
	// a 64-char lowercase hex string.
	ErrInvalidHash = errors.New("content hash must be 64-char lowercase hex")

	// ErrMissingResponse is raised when a batch fetch returns fewer
	// responses than requested URLs.
	ErrMissingResponse = errors.New("transport returned no response for url")

	// ErrHookPanicked wraps a recovered panic from a post-scan hook.
	ErrHookPanicked = errors.New("post-scan hook panicked")

	// ErrMissingSeedURL is returned by NewCoordinator when no seed URL
	// was configured.
	ErrMissingSeedURL = errors.New("coordinator requires a seed URL")

	// ErrInvalidSeedURL is returned by NewCoordinator when the seed URL
	// is not an absolute http(s) URL with a host.
	ErrInvalidSeedURL = errors.New("seed URL must be an absolute http(s) URL")
)

// ErrorKind classifies a CrawlError.
type ErrorKind string

const (
	KindInvalidURL         ErrorKind = "invalid_url"
	KindSSRF               ErrorKind = "ssrf"
	KindFetchFailure       ErrorKind = "fetch_failure"
	KindParseFailure       ErrorKind = "parse_failure"
	KindPluginFailure      ErrorKind = "plugin_failure"
	KindStorageFailure     ErrorKind = "storage_failure"
	KindLifecycleFailure   ErrorKind = "lifecycle_failure"
	KindSchedulerRejection ErrorKind = "scheduler_rejection"
	KindCancelled          ErrorKind = "cancelled"
)

// CrawlError wraps an underlying error with the node URL and kind it
// occurred against. Only KindLifecycleFailure is fatal to the
// coordinator loop, and only for the node it concerns.
type CrawlError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *CrawlError) Error() string {
	if e.URL != "" {
		return string(e.Kind) + ": " + urlutil.RedactCredentials(e.URL) + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *CrawlError) Unwrap() error { return e.Err }

// NewCrawlError constructs a CrawlError of the given kind.
func NewCrawlError(kind ErrorKind, url string, err error) *CrawlError {
	return &CrawlError{Kind: kind, URL: url, Err: err}
}

// IsFatal reports whether err should abort processing of the current node
// (LifecycleFailure only) as opposed to being logged and skipped.
func IsFatal(err error) bool {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Kind == KindLifecycleFailure
	}
	return false
}
