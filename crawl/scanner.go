package crawl

import "context"

// FetchResponse is the transport's result for one URL.
type FetchResponse struct {
	URL           string
	FinalURL      string
	RedirectChain []string
	StatusCode    int
	Headers       map[string][]string
	HTML          string
	Err           error
}

// IsRedirect reports whether the fetch followed at least one redirect.
func (r FetchResponse) IsRedirect() bool {
	return r.FinalURL != "" && r.FinalURL != r.URL
}

// Transport is the polymorphic fetch interface the coordinator drives.
// Implementations live in the transport package; this
// interface is declared on the consumer side so crawl never imports
// transport.
type Transport interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
	FetchMany(ctx context.Context, urls []string) ([]FetchResponse, error)
	SupportsBatchFetching() bool
	Close() error
}

// Scanner is the thin wrapper the coordinator invokes per node: fetch,
// then run the node's plugin pipeline over the fetched HTML, returning
// the extracted links alongside the raw response.
type Scanner struct {
	transport Transport
}

func NewScanner(t Transport) *Scanner { return &Scanner{transport: t} }

func (s *Scanner) ScanNode(ctx context.Context, n *Node) ([]string, FetchResponse, error) {
	resp, err := s.transport.Fetch(ctx, n.URL())
	if err != nil {
		return nil, resp, NewCrawlError(KindFetchFailure, n.URL(), err)
	}
	if resp.Err != nil {
		return nil, resp, NewCrawlError(KindFetchFailure, n.URL(), resp.Err)
	}
	links, err := n.processHTML(ctx, resp.HTML)
	if err != nil {
		return nil, resp, err
	}
	return links, resp, nil
}

// ScanMany drives a batch of nodes through transport.FetchMany, for
// coordinators operating in transport batch mode. Results
// are returned in the same order as nodes.
func (s *Scanner) ScanMany(ctx context.Context, nodes []*Node) ([][]string, []FetchResponse, []error) {
	urls := make([]string, len(nodes))
	for i, n := range nodes {
		urls[i] = n.URL()
	}
	responses, err := s.transport.FetchMany(ctx, urls)
	if err != nil {
		errs := make([]error, len(nodes))
		for i := range errs {
			errs[i] = NewCrawlError(KindFetchFailure, urls[i], err)
		}
		return make([][]string, len(nodes)), responses, errs
	}

	links := make([][]string, len(nodes))
	errs := make([]error, len(nodes))
	for i, n := range nodes {
		if i >= len(responses) {
			errs[i] = NewCrawlError(KindFetchFailure, n.URL(), ErrMissingResponse)
			continue
		}
		resp := responses[i]
		if resp.Err != nil {
			errs[i] = NewCrawlError(KindFetchFailure, n.URL(), resp.Err)
			continue
		}
		l, err := n.processHTML(ctx, resp.HTML)
		if err != nil {
			errs[i] = err
			continue
		}
		links[i] = l
	}
	return links, responses, errs
}
