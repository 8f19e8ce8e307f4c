package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/crawlgraph/crawlgraph/crawl"
	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// BrowserDriver is the headless-browser Transport. It keeps a
// pool of browsersPerDriver browser processes, each handling up to
// tabsPerBrowser pages concurrently; fetch_many splits its URL batch
// across browsers and opens one tab per URL, capped at tabsPerBrowser,
// tearing every browser down after the batch completes.
type BrowserDriver struct {
	pw          *playwright.Playwright
	numBrowsers int
	tabsPerPage int
	plugins       *DriverPluginManager
	middleware    *MiddlewareChain
	navTimeout    float64
	allowInternal bool
}

type BrowserOption func(*BrowserDriver)

func WithBrowserCount(n int) BrowserOption {
	return func(d *BrowserDriver) { d.numBrowsers = n }
}

func WithTabsPerBrowser(n int) BrowserOption {
	return func(d *BrowserDriver) { d.tabsPerPage = n }
}

func WithBrowserPlugins(m *DriverPluginManager) BrowserOption {
	return func(d *BrowserDriver) { d.plugins = m }
}

func WithBrowserMiddleware(c *MiddlewareChain) BrowserOption {
	return func(d *BrowserDriver) { d.middleware = c }
}

// WithNavigationTimeoutMillis bounds page.Goto; zero uses playwright's
// default.
func WithNavigationTimeoutMillis(ms float64) BrowserOption {
	return func(d *BrowserDriver) { d.navTimeout = ms }
}

// WithBrowserAllowInternalHosts disables the driver's private-host
// rejection, matching the HTTP driver's option of the same purpose.
func WithBrowserAllowInternalHosts(b bool) BrowserOption {
	return func(d *BrowserDriver) { d.allowInternal = b }
}

// NewBrowserDriver starts a Playwright driver process and prepares a pool
// sized numBrowsers x tabsPerBrowser (defaults 2x5 if unset).
func NewBrowserDriver(opts ...BrowserOption) (*BrowserDriver, error) {
	d := &BrowserDriver{
		numBrowsers: 2,
		tabsPerPage: 5,
		plugins:     NewDriverPluginManager(nil),
		middleware:  NewMiddlewareChain(nil),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.numBrowsers <= 0 {
		return nil, ErrNoBrowsersConfigured
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("transport: starting playwright: %w", err)
	}
	d.pw = pw
	return d, nil
}

func (d *BrowserDriver) SupportsBatchFetching() bool { return true }

func (d *BrowserDriver) Close() error {
	if d.pw == nil {
		return nil
	}
	return d.pw.Stop()
}

// Fetch opens one browser for a single URL; prefer FetchMany for batches
// so the pool is actually exercised.
func (d *BrowserDriver) Fetch(ctx context.Context, url string) (crawl.FetchResponse, error) {
	responses, err := d.FetchMany(ctx, []string{url})
	if err != nil {
		return crawl.FetchResponse{URL: url}, err
	}
	return responses[0], nil
}

// FetchMany splits urls across d.numBrowsers browsers, launching each
// browser once and running up to d.tabsPerPage tabs concurrently inside
// it, then closes every browser before returning.
func (d *BrowserDriver) FetchMany(ctx context.Context, urls []string) ([]crawl.FetchResponse, error) {
	responses := make([]crawl.FetchResponse, len(urls))
	buckets := bucketURLs(urls, d.numBrowsers)

	var wg sync.WaitGroup
	for _, bucket := range buckets {
		if len(bucket.indices) == 0 {
			continue
		}
		wg.Add(1)
		go func(b urlBucket) {
			defer wg.Done()
			d.runBrowserBucket(ctx, b, responses)
		}(bucket)
	}
	wg.Wait()
	return responses, nil
}

type urlBucket struct {
	indices []int
	urls    []string
}

// bucketURLs splits urls round-robin across n buckets so each browser
// gets a roughly even share of the batch.
func bucketURLs(urls []string, n int) []urlBucket {
	if n <= 0 {
		n = 1
	}
	buckets := make([]urlBucket, n)
	for i, u := range urls {
		b := i % n
		buckets[b].indices = append(buckets[b].indices, i)
		buckets[b].urls = append(buckets[b].urls, u)
	}
	return buckets
}

func (d *BrowserDriver) runBrowserBucket(ctx context.Context, b urlBucket, out []crawl.FetchResponse) {
	browser, err := d.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		d.fillErr(b, out, err)
		return
	}
	defer browser.Close()

	sem := make(chan struct{}, d.tabsPerPage)
	var wg sync.WaitGroup
	for i, idx := range b.indices {
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int, url string) {
			defer wg.Done()
			defer func() { <-sem }()
			out[idx] = d.fetchOnePage(ctx, browser, url)
		}(idx, b.urls[i])
	}
	wg.Wait()
}

func (d *BrowserDriver) fillErr(b urlBucket, out []crawl.FetchResponse, err error) {
	for i, idx := range b.indices {
		out[idx] = crawl.FetchResponse{URL: b.urls[i], Err: err}
	}
}

func (d *BrowserDriver) fetchOnePage(ctx context.Context, browser playwright.Browser, url string) crawl.FetchResponse {
	rc := newRequestContext(url, 0)
	if err := urlutil.ValidateURLSecurity(url, d.allowInternal); err != nil {
		rc.Err = err
		return rc.toFetchResponse()
	}
	rc = d.plugins.Execute(ctx, StageSessionCreating, rc)
	d.middleware.Run(ctx, PreRequest, rc)
	if rc.Cancelled {
		return rc.toFetchResponse()
	}

	page, err := browser.NewPage()
	if err != nil {
		rc.Err = err
		return rc.toFetchResponse()
	}
	defer page.Close()
	rc = d.plugins.Execute(ctx, StageSessionCreated, rc)

	gotoOpts := playwright.PageGotoOptions{}
	if d.navTimeout > 0 {
		gotoOpts.Timeout = playwright.Float(d.navTimeout)
	}
	resp, err := page.Goto(rc.URL, gotoOpts)
	if err != nil {
		rc.Err = err
		d.middleware.Run(ctx, OnError, rc)
		return rc.toFetchResponse()
	}
	if resp != nil {
		rc.StatusCode = resp.Status()
		rc.FinalURL = page.URL()
		rc.ResponseHeader = headersToMulti(resp.Headers())
	}
	rc = d.plugins.Execute(ctx, StageResponseRecvd, rc)

	html, err := page.Content()
	if err != nil {
		rc.Err = err
		d.middleware.Run(ctx, OnError, rc)
		return rc.toFetchResponse()
	}
	rc.HTML = html
	rc = d.plugins.Execute(ctx, StageProcessingResp, rc)
	d.middleware.Run(ctx, PostRequest, rc)
	rc = d.plugins.Execute(ctx, StageRequestComplete, rc)
	return rc.toFetchResponse()
}

func headersToMulti(h map[string]string) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		out[k] = []string{v}
	}
	return out
}
