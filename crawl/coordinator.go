package crawl

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// Coordinator runs the single-coordinator crawl loop: it
// owns the Graph, Scheduler, Scanner, and LinkProcessor, and drives them
// to completion against a seed URL.
type Coordinator struct {
	cfg *config

	crawlID   string
	transport Transport
	scanner   *Scanner
	graph     *Graph
	scheduler *Scheduler
	linkProc  *LinkProcessor
	deadLtr   *DeadLetterQueue
	throttle  *Throttle

	seq int
}

// NewCoordinator wires a Coordinator from a transport and a set of
// Options.
func NewCoordinator(transport Transport, opts ...Option) (*Coordinator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.seedURL == "" {
		return nil, NewCrawlError(KindInvalidURL, "", ErrMissingSeedURL)
	}
	if !urlutil.IsValid(cfg.seedURL) {
		return nil, NewCrawlError(KindInvalidURL, cfg.seedURL, ErrInvalidSeedURL)
	}
	if err := urlutil.ValidateURLSecurity(cfg.seedURL, cfg.allowInternal); err != nil {
		return nil, NewCrawlError(KindSSRF, cfg.seedURL, err)
	}
	// same_domain restricts the crawl to the seed's domain and its
	// subdomains unless the caller supplied an explicit domain filter.
	if cfg.domain == nil && cfg.sameDomain {
		cfg.domain = NewDomainFilter(urlutil.GetRootDomain(cfg.seedURL),
			[]string{DomainSentinelBaseAndSubdomains}, nil)
	}

	graph := NewGraph()
	scheduler := NewScheduler(0, cfg.urlRules)
	scheduler.SetAllowInternalHosts(cfg.allowInternal)
	linkProc := NewLinkProcessor(graph, scheduler,
		WithDomainFilter(cfg.domain),
		WithPathFilter(cfg.path),
		WithURLRules(cfg.urlRules),
		WithEdgeRules(cfg.edgeRules),
		WithEdgeStrategy(cfg.edgeStrategy),
		WithLinkBatchSize(cfg.batchSize),
		WithLinkProcessorPlugins(cfg.plugins),
	)

	return &Coordinator{
		cfg:       cfg,
		crawlID:   uuid.NewString(),
		transport: transport,
		scanner:   NewScanner(transport),
		graph:     graph,
		scheduler: scheduler,
		linkProc:  linkProc,
		deadLtr:   NewDeadLetterQueue(1000),
		throttle:  NewThrottle(),
	}, nil
}

func (c *Coordinator) emit(msg, url string, meta map[string]interface{}) {
	if c.cfg.emitter == nil {
		return
	}
	c.cfg.emitter.Emit(CoordinatorEvent{CrawlID: c.crawlID, Seq: c.seq, URL: url, Msg: msg, Meta: meta})
	c.seq++
}

// Graph exposes the crawl's working graph, readable during and after
// Run.
func (c *Coordinator) Graph() *Graph { return c.graph }

// DeadLetterQueue exposes the accumulated fetch failures.
func (c *Coordinator) DeadLetterQueue() *DeadLetterQueue { return c.deadLtr }

// Close releases the coordinator's collaborators: node plugins are torn
// down and the transport is closed. Call once Run has returned.
func (c *Coordinator) Close() error {
	if c.cfg.plugins != nil {
		c.cfg.plugins.Teardown()
	}
	return c.transport.Close()
}

// Run drives the crawl loop to completion: empty scheduler, max_pages
// reached, timeout exceeded, or ctx cancellation.
func (c *Coordinator) Run(ctx context.Context) error {
	start := time.Now()
	root := NewNode(ctx, c.cfg.seedURL, 0, nodeOptsFor(c.cfg)...)
	c.graph.AddNode(root, false)
	c.scheduler.AddNode(root)
	c.emit(EventNodeCreated, root.URL(), nil)
	c.emit(EventCrawlStarted, c.cfg.seedURL, nil)

	pagesCrawled := 0

	// In transport batch mode the scheduler dispenses up to
	// worker_prefetch_multiplier × batch_size same-depth ready nodes per
	// iteration and FetchMany runs them concurrently.
	batchLimit := 1
	if c.transport.SupportsBatchFetching() && c.cfg.workerPrefetch > 0 && c.cfg.batchSize > 0 {
		batchLimit = c.cfg.workerPrefetch * c.cfg.batchSize
	}

	for !c.scheduler.IsEmpty() {
		if ctx.Err() != nil {
			break
		}
		if c.cfg.maxPages >= 0 && pagesCrawled >= c.cfg.maxPages {
			break
		}
		if c.cfg.timeout > 0 && time.Since(start) > c.cfg.timeout {
			break
		}

		limit := batchLimit
		if c.cfg.maxPages >= 0 && limit > c.cfg.maxPages-pagesCrawled {
			limit = c.cfg.maxPages - pagesCrawled
		}
		batch := c.nextBatch(ctx, limit)
		if c.cfg.metrics != nil {
			c.cfg.metrics.SetQueueDepth(c.scheduler.Size())
		}
		if len(batch) == 0 {
			continue
		}

		for _, node := range batch {
			c.emit(EventNodeScanStarted, node.URL(), nil)
		}
		fetchStart := time.Now()

		if len(batch) == 1 {
			node := batch[0]
			links, resp, err := c.scanner.ScanNode(ctx, node)
			c.finishScan(ctx, node, links, resp, err, time.Since(fetchStart), &pagesCrawled)
		} else {
			linksPer, responses, errs := c.scanner.ScanMany(ctx, batch)
			latency := time.Since(fetchStart)
			for i, node := range batch {
				var resp FetchResponse
				if i < len(responses) {
					resp = responses[i]
				}
				c.finishScan(ctx, node, linksPer[i], resp, errs[i], latency, &pagesCrawled)
			}
		}

		c.sleepRequestDelay(ctx)
	}

	c.emit(EventCrawlCompleted, c.cfg.seedURL, map[string]interface{}{
		"pages_crawled": pagesCrawled,
		"stats":         c.graph.Stats(),
	})
	return nil
}

// nextBatch dequeues up to limit ready nodes sharing the front node's
// depth. Nodes past max_depth or already scanned are dropped; nodes whose
// rules forbid scanning still reach the link processor so rule-forced
// edges can be created.
func (c *Coordinator) nextBatch(ctx context.Context, limit int) []*Node {
	var batch []*Node
	for len(batch) < limit {
		node, ok := c.scheduler.GetNext()
		if !ok {
			break
		}
		if c.cfg.maxDepth >= 0 && node.Depth() > c.cfg.maxDepth {
			continue
		}
		if node.Scanned() {
			continue
		}
		if !node.ShouldScan() {
			c.linkProc.ProcessLinks(ctx, node, nil)
			continue
		}
		batch = append(batch, node)
		if next, ok := c.scheduler.Peek(); ok && next.Depth() != node.Depth() {
			break
		}
	}
	return batch
}

// finishScan applies one scan's outcome to the node, runs post-scan hooks
// and the link processor, and advances the crawl counters. A fetch or
// parse failure marks the node scanned, dead-letters it, and leaves the
// loop running.
func (c *Coordinator) finishScan(ctx context.Context, node *Node, links []string, resp FetchResponse, scanErr error, latency time.Duration, pagesCrawled *int) {
	if scanErr != nil {
		node.MarkScanned()
		c.throttle.RecordFailure(latency)
		if c.cfg.metrics != nil {
			c.cfg.metrics.IncDeadLetters()
		}
		c.deadLtr.AddFailedURL(node.URL(), scanErr.Error(), 0)
		c.emit(EventErrorOccurred, node.URL(), map[string]interface{}{"error": scanErr.Error()})
		return
	}

	node.MarkScanned()
	node.SetResponseStatus(resp.StatusCode)
	c.throttle.RecordSuccess(latency)
	c.emit(EventNodeScanned, node.URL(), map[string]interface{}{"status": resp.StatusCode})

	if c.cfg.incremental.ShouldSkip(node) {
		return
	}

	var err error
	for _, hook := range c.cfg.postScanHooks {
		links, err = c.runHook(ctx, hook, node, links)
		if err != nil {
			c.emit(EventErrorOccurred, node.URL(), map[string]interface{}{"error": err.Error(), "stage": "post_scan_hook"})
		}
	}

	c.linkProc.ProcessLinksBatched(ctx, node, links, c.cfg.batchSize)

	*pagesCrawled++
	if c.cfg.metrics != nil {
		c.cfg.metrics.IncPagesCrawled()
	}
	c.emit(EventPageCrawled, node.URL(), map[string]interface{}{"pages_crawled": *pagesCrawled})
}

// runHook isolates a single post-scan hook failure so the remaining
// hooks still run.
func (c *Coordinator) runHook(ctx context.Context, hook PostScanHook, n *Node, links []string) (out []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = links, NewCrawlError(KindPluginFailure, n.URL(), ErrHookPanicked)
		}
	}()
	return hook(ctx, n, links)
}

func (c *Coordinator) sleepRequestDelay(ctx context.Context) {
	delay := c.cfg.requestDelay
	if delay <= 0 {
		delay = c.throttle.Delay()
	}
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func nodeOptsFor(cfg *config) []NodeOption {
	var opts []NodeOption
	if cfg.plugins != nil {
		opts = append(opts, WithNodePlugins(cfg.plugins))
	}
	return opts
}
