package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// protocolVersion is the envelope format version the dispatcher and every
// worker must agree on.
const protocolVersion = 1

// ErrBrokerClosed is returned by MemoryBroker.Enqueue after Close.
var ErrBrokerClosed = errors.New("distributed: broker closed")

type envelope struct {
	Version int  `json:"version"`
	Task    Task `json:"task"`
}

// MemoryBroker is an in-process, channel-backed reference Broker: fixed
// channels per queue, JSON-encoded payloads even across an in-process
// boundary so the wire contract (versioned, self-describing payloads) is
// actually exercised rather than assumed. Swapping in a network broker
// is a new Broker implementation, not a rewrite of callers.
type MemoryBroker struct {
	mu       sync.Mutex
	queues   map[Queue]chan []byte
	inflight map[string][]byte
	results  map[string]chan Result
	closed   bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: map[Queue]chan []byte{
			QueueBatch: make(chan []byte, 1024),
			QueuePage:  make(chan []byte, 1024),
		},
		inflight: make(map[string][]byte),
		results:  make(map[string]chan Result),
	}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, task Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	data, err := json.Marshal(envelope{Version: protocolVersion, Task: task})
	if err != nil {
		return fmt.Errorf("distributed: encode task: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	q, ok := b.queues[task.Queue]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("distributed: unknown queue %q", task.Queue)
	}

	select {
	case q <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Consume(ctx context.Context, queue Queue, prefetch int) (<-chan Task, error) {
	b.mu.Lock()
	q, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("distributed: unknown queue %q", queue)
	}
	if prefetch <= 0 {
		prefetch = 1
	}

	out := make(chan Task, prefetch)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-q:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal(data, &env); err != nil {
					continue
				}
				if env.Version != protocolVersion {
					continue
				}
				b.mu.Lock()
				b.inflight[env.Task.ID] = data
				b.mu.Unlock()
				select {
				case out <- env.Task:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *MemoryBroker) Ack(_ context.Context, _ Queue, taskID string) error {
	b.mu.Lock()
	delete(b.inflight, taskID)
	b.mu.Unlock()
	return nil
}

// Nack redelivers taskID to queue. Since MemoryBroker's Consume loop has
// already exited its select by the time a worker calls Nack, redelivery
// re-enters the same queue channel rather than bypassing it, preserving
// ordering relative to other pending tasks.
func (b *MemoryBroker) Nack(ctx context.Context, queue Queue, taskID string) error {
	b.mu.Lock()
	data, ok := b.inflight[taskID]
	delete(b.inflight, taskID)
	q, qok := b.queues[queue]
	b.mu.Unlock()
	if !ok || !qok {
		return nil
	}
	select {
	case q <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) PublishResult(ctx context.Context, result Result) error {
	ch := b.resultChan(result.TaskID)
	select {
	case ch <- result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) AwaitResult(ctx context.Context, taskID string) (Result, error) {
	ch := b.resultChan(taskID)
	select {
	case result := <-ch:
		b.mu.Lock()
		delete(b.results, taskID)
		b.mu.Unlock()
		return result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (b *MemoryBroker) resultChan(taskID string) chan Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.results[taskID]
	if !ok {
		ch = make(chan Result, 1)
		b.results[taskID] = ch
	}
	return ch
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	return nil
}
