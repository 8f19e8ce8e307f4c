// Package distributed implements the distributed executor: a dispatcher that farms URL batches out to broker-backed workers
// and folds each worker's partial graph back into a master graph, as an
// alternative to the single coordinator's in-process loop.
package distributed

import (
	"context"

	"github.com/crawlgraph/crawlgraph/crawl"
)

// Queue names one of the broker's two logical queues.
type Queue string

const (
	QueueBatch Queue = "batch"
	QueuePage  Queue = "page"
)

// Task is a crawl_batch (or, with one URL, crawl_page) unit of work. ConfigSnapshot carries the subset of coordinator config a
// worker needs to reproduce scanning decisions (domain/path filters, URL
// rules) without a shared process.
type Task struct {
	ID             string
	Queue          Queue
	URLs           []string
	Depth          int
	ConfigSnapshot map[string]interface{}
}

// Failure is one URL's terminal error within a task, serialized into
// the result payload rather than raised, so a worker never aborts a
// whole task over one URL.
type Failure struct {
	URL    string
	Reason string
}

// Result is a worker's response to one Task: its partial graph, the URLs
// it discovered (not yet filtered or deduplicated against the master
// scheduler; that is the dispatcher's job), and any per-URL failures.
type Result struct {
	TaskID         string
	PartialGraph   crawl.GraphDTO
	DiscoveredURLs []string
	Failures       []Failure
}

// Broker is the required contract: at-least-once delivery,
// per-worker prefetch control, two named queues, and a result backend
// keyed by task id. Persistent brokers (Redis, RabbitMQ) are out of
// scope; MemoryBroker is the in-process reference
// implementation exercising this same contract.
type Broker interface {
	// Enqueue submits task to its Queue field's queue. A missing task.ID
	// is assigned by the broker.
	Enqueue(ctx context.Context, task Task) error

	// Consume returns a channel of tasks from queue, redelivering any
	// task that is Nack'd instead of Ack'd (at-least-once). prefetch
	// bounds how many unacknowledged tasks this consumer may hold at
	// once; implementations may treat it as a hint.
	Consume(ctx context.Context, queue Queue, prefetch int) (<-chan Task, error)

	// Ack confirms a task was fully processed and must not be redelivered.
	Ack(ctx context.Context, queue Queue, taskID string) error

	// Nack returns a task to its queue for redelivery.
	Nack(ctx context.Context, queue Queue, taskID string) error

	// PublishResult makes a task's result available to AwaitResult.
	PublishResult(ctx context.Context, result Result) error

	// AwaitResult blocks until taskID's result is published or ctx ends.
	AwaitResult(ctx context.Context, taskID string) (Result, error)

	Close() error
}
