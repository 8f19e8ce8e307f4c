package distributed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crawlgraph/crawlgraph/crawl"
)

// Dispatcher-only event names, layered on crawl's coordinator event
// vocabulary.
const (
	EventTaskDispatched = "TASK_DISPATCHED"
	EventTaskCompleted  = "TASK_COMPLETED"
	EventTaskFailed     = "TASK_FAILED"
)

const (
	defaultBatchSize          = 12
	defaultPrefetchMultiplier = 64
)

// Dispatcher replaces the single crawl.Coordinator loop with one that
// farms batches of URLs out over a Broker and folds each worker's
// partial graph back into a master Graph. It owns the
// same Scheduler/Graph/DeadLetterQueue concerns the coordinator owns,
// just driven by task results instead of direct Scanner calls.
type Dispatcher struct {
	seedURL string
	broker  Broker
	queue   Queue

	graph     *crawl.Graph
	scheduler *crawl.Scheduler
	deadLtr   *crawl.DeadLetterQueue

	batchSize          int
	prefetchMultiplier int
	mergeStrategy      crawl.MergeStrategy
	maxDepth           int
	maxPages           int
	timeout            time.Duration
	configSnapshot     map[string]interface{}
	emitter            crawl.Emitter

	crawlID      string
	seq          int
	pagesCrawled int
	pending      *crawl.Node
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithBatchSize(n int) Option {
	return func(d *Dispatcher) { d.batchSize = n }
}

func WithPrefetchMultiplier(n int) Option {
	return func(d *Dispatcher) { d.prefetchMultiplier = n }
}

func WithMergeStrategy(strategy crawl.MergeStrategy) Option {
	return func(d *Dispatcher) { d.mergeStrategy = strategy }
}

func WithMaxDepth(n int) Option {
	return func(d *Dispatcher) { d.maxDepth = n }
}

func WithMaxPages(n int) Option {
	return func(d *Dispatcher) { d.maxPages = n }
}

func WithTimeout(d time.Duration) Option {
	return func(dd *Dispatcher) { dd.timeout = d }
}

func WithConfigSnapshot(snapshot map[string]interface{}) Option {
	return func(d *Dispatcher) { d.configSnapshot = snapshot }
}

func WithDispatcherEmitter(e crawl.Emitter) Option {
	return func(d *Dispatcher) { d.emitter = e }
}

func WithQueue(q Queue) Option {
	return func(d *Dispatcher) { d.queue = q }
}

func WithDeadLetterQueue(q *crawl.DeadLetterQueue) Option {
	return func(d *Dispatcher) { d.deadLtr = q }
}

// NewDispatcher builds a Dispatcher rooted at seedURL, submitting tasks
// to broker. Defaults: batch size 12, prefetch multiplier 64, merge
// strategy "merge".
func NewDispatcher(seedURL string, broker Broker, opts ...Option) (*Dispatcher, error) {
	if seedURL == "" {
		return nil, fmt.Errorf("distributed: seed URL is required")
	}
	d := &Dispatcher{
		seedURL:            seedURL,
		broker:             broker,
		queue:              QueueBatch,
		graph:              crawl.NewGraph(),
		scheduler:          crawl.NewScheduler(1024, nil),
		deadLtr:            crawl.NewDeadLetterQueue(1000),
		batchSize:          defaultBatchSize,
		prefetchMultiplier: defaultPrefetchMultiplier,
		mergeStrategy:      crawl.MergeMerge,
		maxDepth:           3,
		maxPages:           100,
		crawlID:            uuid.NewString(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Dispatcher) Graph() *crawl.Graph                    { return d.graph }
func (d *Dispatcher) DeadLetterQueue() *crawl.DeadLetterQueue { return d.deadLtr }

func (d *Dispatcher) emit(msg, url string, meta map[string]interface{}) {
	if d.emitter == nil {
		return
	}
	d.seq++
	d.emitter.Emit(crawl.CoordinatorEvent{CrawlID: d.crawlID, Seq: d.seq, URL: url, Msg: msg, Meta: meta})
}

type taskOutcome struct {
	urls   []string
	result Result
	err    error
}

// Run drives the dispatch loop until the scheduler is drained, the
// page/timeout bounds are hit, or ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.emit(crawl.EventCrawlStarted, d.seedURL, nil)

	root := crawl.NewNode(ctx, d.seedURL, 0)
	d.scheduler.AddNode(root)
	d.graph.AddNode(root, false)

	outcomes := make(chan taskOutcome, d.prefetchMultiplier)
	inFlight := 0
	start := time.Now()

	done := func() bool {
		if ctx.Err() != nil {
			return true
		}
		if d.maxPages >= 0 && d.pagesCrawled >= d.maxPages {
			return true
		}
		if d.timeout > 0 && time.Since(start) > d.timeout {
			return true
		}
		return false
	}

	for {
		for inFlight < d.prefetchMultiplier && !done() {
			batch, more := d.nextBatch()
			if !more {
				break
			}
			if len(batch) == 0 {
				continue
			}
			inFlight++
			d.dispatchBatch(ctx, batch, outcomes)
		}

		if inFlight == 0 {
			break
		}

		select {
		case <-ctx.Done():
			d.drainRemaining(outcomes, inFlight)
			return ctx.Err()
		case out := <-outcomes:
			inFlight--
			d.handleOutcome(out)
		}

		if done() && d.scheduler.IsEmpty() && inFlight == 0 {
			break
		}
	}

	d.emit(crawl.EventCrawlCompleted, d.seedURL, map[string]interface{}{
		"total_nodes":   d.graph.NodeCount(),
		"pages_crawled": d.pagesCrawled,
	})
	return nil
}

func (d *Dispatcher) drainRemaining(outcomes chan taskOutcome, inFlight int) {
	for i := 0; i < inFlight; i++ {
		d.handleOutcome(<-outcomes)
	}
}

// nextBatch pops up to batchSize ready, should_scan nodes of the same
// depth from the scheduler (a Task carries a single depth field).
// Nodes with should_scan=false are dropped without dispatch and are
// not added to the master graph. more
// is false only once the scheduler and any look-ahead node are exhausted.
func (d *Dispatcher) nextBatch() (batch []*crawl.Node, more bool) {
	take := func() (*crawl.Node, bool) {
		if d.pending != nil {
			n := d.pending
			d.pending = nil
			return n, true
		}
		return d.scheduler.GetNext()
	}

	haveDepth := false
	depth := 0
	for len(batch) < d.batchSize {
		n, ok := take()
		if !ok {
			return batch, len(batch) > 0
		}
		more = true
		if d.maxDepth >= 0 && n.Depth() > d.maxDepth {
			continue
		}
		if !n.ShouldScan() {
			continue
		}
		if !haveDepth {
			depth, haveDepth = n.Depth(), true
		} else if n.Depth() != depth {
			d.pending = n
			break
		}
		batch = append(batch, n)
	}
	return batch, more
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, batch []*crawl.Node, outcomes chan<- taskOutcome) {
	urls := make([]string, len(batch))
	for i, n := range batch {
		urls[i] = n.URL()
	}
	task := Task{
		ID:             uuid.NewString(),
		Queue:          d.queue,
		URLs:           urls,
		Depth:          batch[0].Depth(),
		ConfigSnapshot: d.configSnapshot,
	}
	d.emit(EventTaskDispatched, "", map[string]interface{}{"task_id": task.ID, "url_count": len(urls)})

	go func() {
		if err := d.broker.Enqueue(ctx, task); err != nil {
			outcomes <- taskOutcome{urls: urls, err: err}
			return
		}
		result, err := d.broker.AwaitResult(ctx, task.ID)
		outcomes <- taskOutcome{urls: urls, result: result, err: err}
	}()
}

// handleOutcome merges a worker's partial graph into the master graph,
// feeds its discovered URLs back into the scheduler, and routes the
// task's failures (or the whole task's failure) into the dead-letter
// queue.
func (d *Dispatcher) handleOutcome(out taskOutcome) {
	if out.err != nil {
		for _, u := range out.urls {
			d.deadLtr.AddFailedURL(u, out.err.Error(), 0)
		}
		d.emit(EventTaskFailed, "", map[string]interface{}{"error": out.err.Error(), "url_count": len(out.urls)})
		return
	}

	partial := crawl.GraphFromDTO(out.result.PartialGraph)
	d.graph = d.graph.Union(partial, d.mergeStrategy)
	d.pagesCrawled += len(out.result.PartialGraph.Nodes)

	for _, f := range out.result.Failures {
		d.deadLtr.AddFailedURL(f.URL, f.Reason, 0)
		d.emit(crawl.EventErrorOccurred, f.URL, map[string]interface{}{"error": f.Reason})
	}

	nextDepth := 0
	if len(out.result.PartialGraph.Nodes) > 0 {
		nextDepth = out.result.PartialGraph.Nodes[0].Depth + 1
	}
	for _, link := range out.result.DiscoveredURLs {
		if d.scheduler.HasURL(link) {
			continue
		}
		child := crawl.NewNode(context.Background(), link, nextDepth)
		d.scheduler.AddNode(child)
	}

	d.emit(EventTaskCompleted, "", map[string]interface{}{
		"task_id":         out.result.TaskID,
		"discovered_urls": len(out.result.DiscoveredURLs),
		"failures":        len(out.result.Failures),
	})
}
