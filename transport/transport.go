// Package transport implements the polymorphic fetch interface the crawl
// coordinator drives: an HTTP driver and a headless-browser driver, both
// exposing the same per-request lifecycle to registered driver-plugins
// and middleware.
package transport

import (
	"time"

	"github.com/crawlgraph/crawlgraph/crawl"
	"github.com/crawlgraph/crawlgraph/internal/plugin"
)

// Stage names one point in a single request's lifecycle. Driver-plugins
// observe these stages in order; each driver runs only the stages that
// apply to it. Middleware runs at the three MiddlewareType points instead.
const (
	StageSessionReused   plugin.Stage = "SESSION_REUSED"
	StageSessionCreating plugin.Stage = "SESSION_CREATING"
	StageSessionCreated  plugin.Stage = "SESSION_CREATED"
	StagePreparingReq    plugin.Stage = "PREPARING_REQUEST"
	StageSendingReq      plugin.Stage = "SENDING_REQUEST"
	StageResponseRecvd   plugin.Stage = "RESPONSE_RECEIVED"
	StageProcessingResp  plugin.Stage = "PROCESSING_RESPONSE"
	StageRequestComplete plugin.Stage = "REQUEST_COMPLETED"
	StageRequestFailed   plugin.Stage = "REQUEST_FAILED"
)

// RequestContext is the shared, mutable per-request state threaded through
// driver-plugins and middleware at every lifecycle stage.
type RequestContext struct {
	URL           string
	Headers       map[string]string
	Cookies       map[string]string
	Timeout       time.Duration
	SessionHandle any

	StatusCode     int
	ResponseHeader map[string][]string
	FinalURL       string
	RedirectChain  []string
	HTML           string
	Err            error

	Cancelled    bool
	CancelReason string
	ShouldRetry  bool
	RetryDelay   time.Duration

	Data map[string]any
}

func newRequestContext(url string, timeout time.Duration) *RequestContext {
	return &RequestContext{
		URL:     url,
		Headers: make(map[string]string),
		Timeout: timeout,
		Data:    make(map[string]any),
	}
}

func (c *RequestContext) cancel(reason string) {
	c.Cancelled = true
	c.CancelReason = reason
}

// toFetchResponse converts the terminal request state into the response
// shape crawl.Scanner consumes. Any ctx.Err or a cancellation becomes
// the response's Err, never a returned Go error; per-URL failures ride
// inside the response at the transport boundary.
func (c *RequestContext) toFetchResponse() crawl.FetchResponse {
	err := c.Err
	if c.Cancelled && err == nil {
		err = &CancelledError{Reason: c.CancelReason}
	}
	return crawl.FetchResponse{
		URL:           c.URL,
		FinalURL:      c.FinalURL,
		RedirectChain: c.RedirectChain,
		StatusCode:    c.StatusCode,
		Headers:       c.ResponseHeader,
		HTML:          c.HTML,
		Err:           err,
	}
}

// DriverPluginManager is the transport lifecycle's plugin universe,
// instantiating the shared generic manager over *RequestContext the same
// way crawl.NodePluginManager instantiates it over *crawl.PluginContext.
type DriverPluginManager = plugin.Manager[*RequestContext]

// NewDriverPluginManager builds an empty driver-plugin manager.
func NewDriverPluginManager(onError plugin.ErrorHook) *DriverPluginManager {
	return plugin.NewManager[*RequestContext](onError)
}

// CancelledError is returned as FetchResponse.Err when a driver-plugin or
// middleware sets RequestContext.Cancelled.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string { return "Cancelled: " + e.Reason }
