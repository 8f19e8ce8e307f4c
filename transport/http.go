package transport

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/sync/semaphore"

	"github.com/crawlgraph/crawlgraph/crawl"
	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// HTTPDriver is the net/http-backed Transport. It runs every
// fetch through the six-stage request lifecycle, dispatching registered
// driver-plugins and middleware at each stage, and bounds fetch_many
// concurrency with a semaphore sized by maxConcurrentRequests.
type HTTPDriver struct {
	client            *http.Client
	plugins           *DriverPluginManager
	middleware        *MiddlewareChain
	retry             RetryPolicy
	maxConcurrent     int64
	allowInternal     bool
	sem               *semaphore.Weighted
	closed            int32
	closeOnce         sync.Once
}

// HTTPOption configures an HTTPDriver at construction.
type HTTPOption func(*HTTPDriver)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(d *HTTPDriver) { d.client = c }
}

func WithHTTPPlugins(m *DriverPluginManager) HTTPOption {
	return func(d *HTTPDriver) { d.plugins = m }
}

func WithHTTPMiddleware(c *MiddlewareChain) HTTPOption {
	return func(d *HTTPDriver) { d.middleware = c }
}

func WithHTTPRetryPolicy(p RetryPolicy) HTTPOption {
	return func(d *HTTPDriver) { d.retry = p }
}

// WithMaxConcurrentRequests bounds fetch_many's in-flight request count.
func WithMaxConcurrentRequests(n int) HTTPOption {
	return func(d *HTTPDriver) { d.maxConcurrent = int64(n) }
}

// WithAllowInternalHosts disables the driver's private-host rejection, for
// crawls of internal networks and tests against local servers. The
// scheduler applies the same guard earlier; the driver re-checks because
// plugins may inject URLs that never passed through it.
func WithAllowInternalHosts(b bool) HTTPOption {
	return func(d *HTTPDriver) { d.allowInternal = b }
}

func NewHTTPDriver(opts ...HTTPOption) *HTTPDriver {
	d := &HTTPDriver{
		client:        &http.Client{},
		plugins:       NewDriverPluginManager(nil),
		middleware:    NewMiddlewareChain(nil),
		retry:         DefaultRetryPolicy(),
		maxConcurrent: 24,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sem = semaphore.NewWeighted(d.maxConcurrent)
	return d
}

func (d *HTTPDriver) SupportsBatchFetching() bool { return true }

func (d *HTTPDriver) Close() error {
	d.closeOnce.Do(func() {
		atomic.StoreInt32(&d.closed, 1)
		d.client.CloseIdleConnections()
	})
	return nil
}

func (d *HTTPDriver) isClosed() bool { return atomic.LoadInt32(&d.closed) != 0 }

func (d *HTTPDriver) Fetch(ctx context.Context, url string) (crawl.FetchResponse, error) {
	if d.isClosed() {
		return crawl.FetchResponse{URL: url}, ErrDriverClosed
	}
	rc := d.runLifecycle(ctx, url)
	return rc.toFetchResponse(), nil
}

// FetchMany fetches every URL concurrently, bounded by the driver's
// semaphore, and returns responses in the same order as urls.
func (d *HTTPDriver) FetchMany(ctx context.Context, urls []string) ([]crawl.FetchResponse, error) {
	if d.isClosed() {
		return nil, ErrDriverClosed
	}
	responses := make([]crawl.FetchResponse, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			responses[i] = crawl.FetchResponse{URL: u, Err: err}
			continue
		}
		wg.Add(1)
		go func(idx int, url string) {
			defer wg.Done()
			defer d.sem.Release(1)
			rc := d.runLifecycle(ctx, url)
			responses[idx] = rc.toFetchResponse()
		}(i, u)
	}
	wg.Wait()
	return responses, nil
}

// runLifecycle drives one URL through SESSION_REUSED..REQUEST_COMPLETED/
// REQUEST_FAILED, honoring plugin cancellation and retry requests.
func (d *HTTPDriver) runLifecycle(ctx context.Context, url string) *RequestContext {
	rc := newRequestContext(url, 0)
	if err := urlutil.ValidateURLSecurity(url, d.allowInternal); err != nil {
		rc.Err = err
		rc = d.plugins.Execute(ctx, StageRequestFailed, rc)
		return rc
	}
	rc = d.plugins.Execute(ctx, StageSessionReused, rc)

	for attempt := 0; ; attempt++ {
		if d.attemptOnce(ctx, rc) {
			break
		}
		if attempt+1 >= d.retry.MaxAttempts {
			if rc.Err == nil {
				rc.Err = ErrMaxRetriesExceeded
			}
			break
		}
		delay := rc.RetryDelay
		if delay <= 0 {
			delay = computeBackoff(attempt, d.retry.BaseDelay, d.retry.MaxDelay, nil)
		}
		if !sleepOrDone(ctx, delay) {
			rc.Err = ctx.Err()
			break
		}
		rc.ShouldRetry = false
	}

	if rc.Cancelled || rc.Err != nil {
		d.middleware.Run(ctx, OnError, rc)
		rc = d.plugins.Execute(ctx, StageRequestFailed, rc)
	} else {
		rc = d.plugins.Execute(ctx, StageRequestComplete, rc)
	}
	return rc
}

// attemptOnce runs one PREPARING_REQUEST..PROCESSING_RESPONSE pass. It
// returns true when the attempt reached a terminal (non-retry) outcome.
func (d *HTTPDriver) attemptOnce(ctx context.Context, rc *RequestContext) bool {
	rc.ShouldRetry = false
	rc = d.plugins.Execute(ctx, StagePreparingReq, rc)
	d.middleware.Run(ctx, PreRequest, rc)
	if rc.Cancelled {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.URL, nil)
	if err != nil {
		rc.Err = err
		return true
	}
	for k, v := range rc.Headers {
		req.Header.Set(k, v)
	}

	rc = d.plugins.Execute(ctx, StageSendingReq, rc)
	if rc.Cancelled {
		return true
	}

	resp, err := d.client.Do(req)
	if err != nil {
		rc.Err = err
		return true
	}
	defer resp.Body.Close()

	rc.StatusCode = resp.StatusCode
	rc.ResponseHeader = resp.Header
	rc.FinalURL = resp.Request.URL.String()
	rc.RedirectChain = redirectChain(resp)
	rc = d.plugins.Execute(ctx, StageResponseRecvd, rc)
	if rc.Cancelled {
		return true
	}

	// Decode to UTF-8 using the Content-Type charset (or sniffed meta
	// charset) so downstream parsing never sees legacy encodings.
	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		rc.Err = err
		return true
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		rc.Err = err
		return true
	}
	rc.HTML = string(body)
	rc.Err = nil
	rc = d.plugins.Execute(ctx, StageProcessingResp, rc)
	d.middleware.Run(ctx, PostRequest, rc)

	if rc.Cancelled {
		return true
	}
	if rc.ShouldRetry {
		return false
	}
	return true
}

// redirectChain walks the chain of Request.Response back-links net/http
// leaves behind when it followed redirects, oldest request first.
func redirectChain(resp *http.Response) []string {
	var urls []string
	for req := resp.Request; req != nil; {
		urls = append([]string{req.URL.String()}, urls...)
		if req.Response == nil {
			break
		}
		req = req.Response.Request
	}
	return urls
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
