package sitemap

import (
	"context"
	"errors"
	"testing"

	"github.com/crawlgraph/crawlgraph/crawl"
)

// stubTransport serves canned bodies keyed by exact URL; missing keys
// fail the fetch, mirroring a 404.
type stubTransport struct {
	bodies map[string]string
}

func (s *stubTransport) Fetch(_ context.Context, url string) (crawl.FetchResponse, error) {
	body, ok := s.bodies[url]
	if !ok {
		return crawl.FetchResponse{URL: url, StatusCode: 404}, errors.New("not found: " + url)
	}
	return crawl.FetchResponse{URL: url, StatusCode: 200, HTML: body}, nil
}

func (s *stubTransport) FetchMany(ctx context.Context, urls []string) ([]crawl.FetchResponse, error) {
	out := make([]crawl.FetchResponse, len(urls))
	for i, u := range urls {
		resp, err := s.Fetch(ctx, u)
		if err != nil {
			resp.Err = err
		}
		out[i] = resp
	}
	return out, nil
}

func (s *stubTransport) SupportsBatchFetching() bool { return false }
func (s *stubTransport) Close() error                { return nil }

const robotsWithTwoSitemaps = "User-agent: *\nDisallow:\nSitemap: https://example.com/sitemap-a.xml\nSitemap: https://example.com/sitemap-b.xml\n"

func sitemapBody(urls ...string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, u := range urls {
		body += "<url><loc>" + u + "</loc></url>"
	}
	return body + "</urlset>"
}

func newFixture() *stubTransport {
	return &stubTransport{bodies: map[string]string{
		"https://example.com/robots.txt": robotsWithTwoSitemaps,
		"https://example.com/sitemap-a.xml": sitemapBody(
			"https://example.com/a1", "https://example.com/a2", "https://example.com/a3"),
		"https://example.com/sitemap-b.xml": sitemapBody(
			"https://example.com/b1", "https://example.com/b2", "https://example.com/b3"),
	}}
}

// Two sitemaps of three URLs each with IncludeURLs=true yields
// 1 (robots) + 2 (sitemaps) + 6 (urls) = 9 nodes.
func TestCrawl_TwoSitemapsSixURLs(t *testing.T) {
	transport := newFixture()
	graph, stats, err := Crawl(context.Background(), transport, "https://example.com", Options{IncludeURLs: true})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if graph.NodeCount() != 9 {
		t.Fatalf("got %d nodes, want 9", graph.NodeCount())
	}
	if stats.SitemapsProcessed != 2 {
		t.Errorf("SitemapsProcessed = %d, want 2", stats.SitemapsProcessed)
	}
	if stats.URLsExtracted != 6 {
		t.Errorf("URLsExtracted = %d, want 6", stats.URLsExtracted)
	}

	root, ok := graph.GetNodeByURL("https://example.com/robots.txt")
	if !ok {
		t.Fatal("robots.txt node missing")
	}
	if root.Depth() != 0 {
		t.Errorf("robots depth = %d, want 0", root.Depth())
	}

	sitemapA, ok := graph.GetNodeByURL("https://example.com/sitemap-a.xml")
	if !ok {
		t.Fatal("sitemap-a node missing")
	}
	if sitemapA.Depth() != 1 {
		t.Errorf("sitemap-a depth = %d, want 1", sitemapA.Depth())
	}

	leaf, ok := graph.GetNodeByURL("https://example.com/a1")
	if !ok {
		t.Fatal("leaf url node missing")
	}
	if leaf.Depth() != 2 {
		t.Errorf("leaf depth = %d, want 2", leaf.Depth())
	}
}

// The same fixture with IncludeURLs=false yields only the 3 structure
// nodes.
func TestCrawl_IncludeURLsFalse(t *testing.T) {
	transport := newFixture()
	graph, stats, err := Crawl(context.Background(), transport, "https://example.com", Options{IncludeURLs: false})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if graph.NodeCount() != 3 {
		t.Fatalf("got %d nodes, want 3", graph.NodeCount())
	}
	if stats.URLsExtracted != 0 {
		t.Errorf("URLsExtracted = %d, want 0", stats.URLsExtracted)
	}
}

func TestCrawl_MaxURLsCapsExtraction(t *testing.T) {
	transport := newFixture()
	graph, stats, err := Crawl(context.Background(), transport, "https://example.com", Options{IncludeURLs: true, MaxURLs: 4})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if stats.URLsExtracted > 4 {
		t.Errorf("URLsExtracted = %d, want <= 4", stats.URLsExtracted)
	}
	if graph.NodeCount() > 1+2+4 {
		t.Errorf("got %d nodes, want at most %d", graph.NodeCount(), 1+2+4)
	}
}

func TestCrawl_MalformedSitemapBecomesErrorNode(t *testing.T) {
	transport := &stubTransport{bodies: map[string]string{
		"https://example.com/robots.txt":    "Sitemap: https://example.com/broken.xml\n",
		"https://example.com/broken.xml":    "<?xml version=\"1.0\"?><notasitemap></notasitemap>",
	}}
	graph, stats, err := Crawl(context.Background(), transport, "https://example.com", Options{IncludeURLs: true})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if stats.SitemapsProcessed != 0 {
		t.Errorf("SitemapsProcessed = %d, want 0 for a malformed sitemap", stats.SitemapsProcessed)
	}
	errNode, ok := graph.GetNodeByURL("https://example.com/broken.xml")
	if !ok {
		t.Fatal("expected error node for malformed sitemap")
	}
	if errNode.Metadata()["kind"] != "error" {
		t.Errorf("error node kind = %v, want error", errNode.Metadata()["kind"])
	}
	if graph.NodeCount() != 2 {
		t.Fatalf("got %d nodes, want 2 (robots + error node)", graph.NodeCount())
	}
}

func TestCrawl_FetchFailureContinuesPastOneSitemap(t *testing.T) {
	transport := &stubTransport{bodies: map[string]string{
		"https://example.com/robots.txt": "Sitemap: https://example.com/missing.xml\nSitemap: https://example.com/sitemap-a.xml\n",
		"https://example.com/sitemap-a.xml": sitemapBody("https://example.com/a1"),
	}}
	graph, stats, err := Crawl(context.Background(), transport, "https://example.com", Options{IncludeURLs: true})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if stats.SitemapsProcessed != 1 {
		t.Errorf("SitemapsProcessed = %d, want 1 (one missing, one ok)", stats.SitemapsProcessed)
	}
	if _, ok := graph.GetNodeByURL("https://example.com/missing.xml"); !ok {
		t.Error("expected error node for the missing sitemap")
	}
	if _, ok := graph.GetNodeByURL("https://example.com/a1"); !ok {
		t.Error("expected the second sitemap's URL to still be processed")
	}
}

func TestCrawl_NestedSitemapIndexRecurses(t *testing.T) {
	indexBody := `<?xml version="1.0"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">` +
		`<sitemap><loc>https://example.com/sitemap-a.xml</loc></sitemap></sitemapindex>`
	transport := &stubTransport{bodies: map[string]string{
		"https://example.com/robots.txt":    "Sitemap: https://example.com/index.xml\n",
		"https://example.com/index.xml":     indexBody,
		"https://example.com/sitemap-a.xml": sitemapBody("https://example.com/a1"),
	}}
	graph, stats, err := Crawl(context.Background(), transport, "https://example.com", Options{IncludeURLs: true})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if stats.SitemapsProcessed != 2 {
		t.Errorf("SitemapsProcessed = %d, want 2 (index + leaf sitemap)", stats.SitemapsProcessed)
	}
	index, ok := graph.GetNodeByURL("https://example.com/index.xml")
	if !ok {
		t.Fatal("sitemap index node missing")
	}
	if index.Depth() != 1 {
		t.Errorf("index depth = %d, want 1", index.Depth())
	}
	leaf, ok := graph.GetNodeByURL("https://example.com/sitemap-a.xml")
	if !ok {
		t.Fatal("nested sitemap node missing")
	}
	if leaf.Depth() != 2 {
		t.Errorf("nested sitemap depth = %d, want 2", leaf.Depth())
	}
}

func TestCrawl_NoSitemapsInRobotsFallsBackToConventionalPaths(t *testing.T) {
	transport := &stubTransport{bodies: map[string]string{
		"https://example.com/robots.txt":       "User-agent: *\nDisallow:\n",
		"https://example.com/sitemap.xml":       sitemapBody("https://example.com/a1"),
		"https://example.com/sitemap_index.xml": sitemapBody("https://example.com/b1"),
	}}
	graph, _, err := Crawl(context.Background(), transport, "https://example.com", Options{IncludeURLs: true})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if _, ok := graph.GetNodeByURL("https://example.com/sitemap.xml"); !ok {
		t.Error("expected fallback to try /sitemap.xml")
	}
	if _, ok := graph.GetNodeByURL("https://example.com/sitemap_index.xml"); !ok {
		t.Error("expected fallback to try /sitemap_index.xml")
	}
}
