// Package sitemap implements the sitemap traversal sub-engine:
// a specialized coordinator that discovers sitemap structure from
// robots.txt rather than crawling by link extraction. It shares the
// crawl package's Graph and Transport abstractions but runs its own
// synchronous XML-driven loop in place of the HTML coordinator.
package sitemap

import (
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/google/uuid"
	"github.com/temoto/robotstxt"

	"github.com/crawlgraph/crawlgraph/crawl"
	"github.com/crawlgraph/crawlgraph/internal/emit"
	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// Event message names, parallel to the coordinator's constants in
// crawl/options.go but scoped to this sub-engine.
const (
	EventSitemapCrawlStarted   = "SITEMAP_CRAWL_STARTED"
	EventSitemapCrawlCompleted = "SITEMAP_CRAWL_COMPLETED"
	EventErrorOccurred         = "ERROR_OCCURRED"
)

// Stats summarizes one sitemap traversal.
type Stats struct {
	SitemapsProcessed int
	URLsExtracted     int
}

// Options configures a Crawl call.
type Options struct {
	// IncludeURLs adds URL leaves under each sitemap file. When false,
	// only the robots.txt/sitemap-index/sitemap structure is built.
	IncludeURLs bool

	// MaxURLs caps the total number of URL leaf nodes created across the
	// whole traversal. Zero means unlimited.
	MaxURLs int

	// CrawlID tags emitted events; a random one is generated if empty.
	CrawlID string

	Emitter emit.Emitter
}

func (o Options) emitter() emit.Emitter {
	if o.Emitter != nil {
		return o.Emitter
	}
	return emit.NewNullEmitter()
}

type crawlState struct {
	graph         *crawl.Graph
	transport     crawl.Transport
	opts          Options
	seq           int
	sitemapsSeen  int
	urlsExtracted int
}

// Crawl fetches baseURL's robots.txt, follows its Sitemap: directives (or
// the /sitemap.xml and /sitemap_index.xml fallbacks when robots.txt names
// none), and builds a Graph rooted at the robots.txt URL.
func Crawl(ctx context.Context, transport crawl.Transport, baseURL string, opts Options) (*crawl.Graph, Stats, error) {
	if opts.CrawlID == "" {
		opts.CrawlID = uuid.NewString()
	}
	s := &crawlState{
		graph:     crawl.NewGraph(),
		transport: transport,
		opts:      opts,
	}

	s.emit(EventSitemapCrawlStarted, baseURL, map[string]interface{}{
		"include_urls": opts.IncludeURLs,
		"max_urls":     opts.MaxURLs,
	})

	robotsURL, err := urlutil.MakeAbsolute(baseURL, "/robots.txt")
	if err != nil {
		return nil, Stats{}, fmt.Errorf("sitemap: resolve robots.txt url: %w", err)
	}

	sitemapURLs, robotsErr := s.discoverSitemapURLs(ctx, baseURL, robotsURL)

	robotsNode := crawl.NewNode(ctx, robotsURL, 0, crawl.WithCanCreateEdges(true))
	robotsNode.Metadata()["kind"] = "robots"
	robotsNode.Metadata()["sitemap_urls"] = sitemapURLs
	if robotsErr != nil {
		robotsNode.Metadata()["error"] = robotsErr.Error()
		s.emit(EventErrorOccurred, robotsURL, map[string]interface{}{"error": robotsErr.Error()})
	}
	robotsNode = s.graph.AddNode(robotsNode, false)

	for _, sitemapURL := range sitemapURLs {
		if s.limitReached() {
			break
		}
		s.processSitemap(ctx, sitemapURL, robotsNode, 1)
	}

	stats := Stats{SitemapsProcessed: s.sitemapsSeen, URLsExtracted: s.urlsExtracted}
	s.emit(EventSitemapCrawlCompleted, baseURL, map[string]interface{}{
		"total_nodes":        s.graph.NodeCount(),
		"sitemaps_processed": stats.SitemapsProcessed,
		"urls_extracted":     stats.URLsExtracted,
	})
	return s.graph, stats, nil
}

func (s *crawlState) limitReached() bool {
	return s.opts.MaxURLs > 0 && s.urlsExtracted >= s.opts.MaxURLs
}

func (s *crawlState) emit(msg, url string, meta map[string]interface{}) {
	s.seq++
	s.opts.emitter().Emit(emit.Event{
		CrawlID: s.opts.CrawlID,
		Seq:     s.seq,
		URL:     url,
		Msg:     msg,
		Meta:    meta,
	})
}

// discoverSitemapURLs parses robots.txt for Sitemap: directives, falling
// back to the two conventional well-known paths when robots.txt names
// none.
func (s *crawlState) discoverSitemapURLs(ctx context.Context, baseURL, robotsURL string) ([]string, error) {
	resp, err := s.transport.Fetch(ctx, robotsURL)
	if err != nil {
		return s.fallbackSitemapURLs(ctx, baseURL), fmt.Errorf("fetch robots.txt: %w", err)
	}
	if resp.Err != nil {
		return s.fallbackSitemapURLs(ctx, baseURL), fmt.Errorf("fetch robots.txt: %w", resp.Err)
	}

	data, err := robotstxt.FromBytes([]byte(resp.HTML))
	if err != nil {
		return s.fallbackSitemapURLs(ctx, baseURL), fmt.Errorf("parse robots.txt: %w", err)
	}
	if len(data.Sitemaps) > 0 {
		return data.Sitemaps, nil
	}
	return s.fallbackSitemapURLs(ctx, baseURL), nil
}

// fallbackSitemapURLs returns the two conventional sitemap locations a
// site may serve without advertising them in robots.txt. Candidates are
// not probed here; processSitemap decides, so a candidate that 404s
// becomes an error node rather than being silently dropped and the
// graph reflects every attempt.
func (s *crawlState) fallbackSitemapURLs(_ context.Context, baseURL string) []string {
	var urls []string
	for _, p := range []string{"/sitemap.xml", "/sitemap_index.xml"} {
		abs, err := urlutil.MakeAbsolute(baseURL, p)
		if err == nil {
			urls = append(urls, abs)
		}
	}
	return urls
}

// processSitemap downloads and parses one sitemap file, recursing into
// nested sitemap-index entries or emitting URL leaves.
func (s *crawlState) processSitemap(ctx context.Context, sitemapURL string, parent *crawl.Node, depth int) {
	resp, err := s.transport.Fetch(ctx, sitemapURL)
	if err == nil {
		err = resp.Err
	}
	if err != nil {
		s.addErrorNode(ctx, sitemapURL, parent, depth, err)
		return
	}

	doc, err := xmlquery.Parse(strings.NewReader(resp.HTML))
	if err != nil {
		s.addErrorNode(ctx, sitemapURL, parent, depth, fmt.Errorf("parse xml: %w", err))
		return
	}

	root := xmlquery.FindOne(doc, "/*")
	if root == nil {
		s.addErrorNode(ctx, sitemapURL, parent, depth, fmt.Errorf("empty or invalid sitemap"))
		return
	}

	switch {
	case strings.HasSuffix(localName(root.Data), "sitemapindex"):
		s.processSitemapIndex(ctx, doc, sitemapURL, parent, depth)
	case strings.HasSuffix(localName(root.Data), "urlset"):
		s.processURLSet(ctx, doc, sitemapURL, parent, depth)
	default:
		s.addErrorNode(ctx, sitemapURL, parent, depth, fmt.Errorf("unrecognized sitemap root element %q", root.Data))
	}
}

func localName(tag string) string {
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		return tag[i+1:]
	}
	return tag
}

func (s *crawlState) processSitemapIndex(ctx context.Context, doc *xmlquery.Node, sitemapURL string, parent *crawl.Node, depth int) {
	locs := findLocs(doc, sitemapLocExpr)
	if len(locs) == 0 {
		s.addErrorNode(ctx, sitemapURL, parent, depth, fmt.Errorf("empty or invalid sitemap"))
		return
	}

	node := crawl.NewNode(ctx, sitemapURL, depth, crawl.WithCanCreateEdges(true))
	node.Metadata()["kind"] = "sitemap_index"
	node.Metadata()["sitemap_urls"] = locs
	node = s.graph.AddNode(node, false)
	s.linkParent(parent, node)
	s.sitemapsSeen++

	for _, nested := range locs {
		if s.limitReached() {
			return
		}
		s.processSitemap(ctx, nested, node, depth+1)
	}
}

func (s *crawlState) processURLSet(ctx context.Context, doc *xmlquery.Node, sitemapURL string, parent *crawl.Node, depth int) {
	locs := findLocs(doc, urlLocExpr)
	if len(locs) == 0 {
		s.addErrorNode(ctx, sitemapURL, parent, depth, fmt.Errorf("empty or invalid sitemap"))
		return
	}

	node := crawl.NewNode(ctx, sitemapURL, depth, crawl.WithCanCreateEdges(true))
	node.Metadata()["kind"] = "sitemap"
	node.Metadata()["url_count"] = len(locs)
	node = s.graph.AddNode(node, false)
	s.linkParent(parent, node)
	s.sitemapsSeen++

	if !s.opts.IncludeURLs {
		return
	}
	for _, loc := range locs {
		if s.limitReached() {
			return
		}
		leaf := crawl.NewNode(ctx, loc, depth+1, crawl.WithCanCreateEdges(false))
		leaf.Metadata()["kind"] = "sitemap_url"
		leaf = s.graph.AddNode(leaf, false)
		s.linkParent(node, leaf)
		s.urlsExtracted++
	}
}

func (s *crawlState) addErrorNode(ctx context.Context, url string, parent *crawl.Node, depth int, cause error) {
	node := crawl.NewNode(ctx, url, depth, crawl.WithCanCreateEdges(false))
	node.Metadata()["kind"] = "error"
	node.Metadata()["error"] = cause.Error()
	node = s.graph.AddNode(node, false)
	s.linkParent(parent, node)
	s.emit(EventErrorOccurred, url, map[string]interface{}{"error": cause.Error()})
}

func (s *crawlState) linkParent(parent, child *crawl.Node) {
	if parent == nil {
		return
	}
	s.graph.AddEdge(crawl.NewEdge(parent.ID(), child.ID(), nil))
}

// The loc queries use local-name() so one expression tolerates both
// namespaced and non-namespaced sitemap XML, sidestepping the
// try-with-namespace/fallback-without two-pass approach. Compiled once;
// every sitemap in a traversal reuses them.
var (
	sitemapLocExpr = xpath.MustCompile("//*[local-name()='sitemap']/*[local-name()='loc']")
	urlLocExpr     = xpath.MustCompile("//*[local-name()='url']/*[local-name()='loc']")
)

// findLocs extracts trimmed non-empty <loc> text for a precompiled query.
func findLocs(doc *xmlquery.Node, expr *xpath.Expr) []string {
	nodes := xmlquery.QuerySelectorAll(doc, expr)
	locs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		text := strings.TrimSpace(n.InnerText())
		if text != "" {
			locs = append(locs, text)
		}
	}
	return locs
}
