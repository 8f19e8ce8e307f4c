package distributed

import (
	"context"

	"github.com/crawlgraph/crawlgraph/crawl"
	"github.com/crawlgraph/crawlgraph/internal/urlutil"
)

// Worker is a mini-coordinator that drains tasks from a Broker queue and
// publishes a Result for each.
// Unlike crawl.Coordinator it never consults a Scheduler or edge
// strategy; those decisions live on the dispatcher, which owns the
// single master Graph and scheduler.
type Worker struct {
	id      string
	scanner *crawl.Scanner
	plugins *crawl.NodePluginManager
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerPlugins attaches a node plugin manager so each task's nodes
// run the same ON_BEFORE_SCAN/ON_HTML_PARSED/ON_AFTER_SCAN pipeline a
// single-process Coordinator would. Plugin instances
// are process-local: they are never carried over the broker's Task
// payload, since config_snapshot is a plain serializable map,
// not a place for live plugin references.
func WithWorkerPlugins(m *crawl.NodePluginManager) WorkerOption {
	return func(w *Worker) { w.plugins = m }
}

func NewWorker(id string, transport crawl.Transport, opts ...WorkerOption) *Worker {
	w := &Worker{id: id, scanner: crawl.NewScanner(transport)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) ID() string { return w.id }

// Process runs one task to completion: fetch + plugin pipeline for every
// URL, deduplicated within the task by normalized URL, continuing past any single URL's failure.
func (w *Worker) Process(ctx context.Context, task Task) Result {
	graph := crawl.NewGraph()
	seen := make(map[string]struct{}, len(task.URLs))
	var discovered []string
	var failures []Failure

	for _, raw := range task.URLs {
		norm := urlutil.Normalize(raw)
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}

		var nodeOpts []crawl.NodeOption
		if w.plugins != nil {
			nodeOpts = append(nodeOpts, crawl.WithNodePlugins(w.plugins))
		}
		node := crawl.NewNode(ctx, raw, task.Depth, nodeOpts...)
		links, resp, err := w.scanner.ScanNode(ctx, node)
		if err != nil {
			failures = append(failures, Failure{URL: raw, Reason: err.Error()})
			continue
		}
		node.MarkScanned()
		node.SetResponseStatus(resp.StatusCode)
		graph.AddNode(node, false)
		discovered = append(discovered, links...)
	}

	return Result{
		TaskID:         task.ID,
		PartialGraph:   graph.ToDTO(),
		DiscoveredURLs: discovered,
		Failures:       failures,
	}
}

// Run consumes queue until ctx is done or the broker closes it,
// processing and publishing a Result for every task, acking on success
// and nacking (for redelivery) when PublishResult itself fails.
func (w *Worker) Run(ctx context.Context, broker Broker, queue Queue, prefetch int) error {
	tasks, err := broker.Consume(ctx, queue, prefetch)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task, ok := <-tasks:
			if !ok {
				return nil
			}
			result := w.Process(ctx, task)
			if err := broker.PublishResult(ctx, result); err != nil {
				_ = broker.Nack(ctx, queue, task.ID)
				continue
			}
			_ = broker.Ack(ctx, queue, task.ID)
		}
	}
}
