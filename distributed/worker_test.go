package distributed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crawlgraph/crawlgraph/crawl"
	"github.com/crawlgraph/crawlgraph/internal/plugin"
)

func newWorkerTestPlugins() *crawl.NodePluginManager {
	m := plugin.NewManager[*crawl.PluginContext](nil)
	m.Register(crawl.StageHTMLParsed, crawl.LinkExtractorPlugin{})
	return m
}

type mapTransport struct {
	mu        sync.Mutex
	responses map[string]crawl.FetchResponse
}

func (m *mapTransport) Fetch(_ context.Context, url string) (crawl.FetchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.responses[url]
	if !ok {
		return crawl.FetchResponse{URL: url, StatusCode: 404}, nil
	}
	if resp.Err != nil {
		return resp, resp.Err
	}
	return resp, nil
}

func (m *mapTransport) FetchMany(ctx context.Context, urls []string) ([]crawl.FetchResponse, error) {
	out := make([]crawl.FetchResponse, len(urls))
	for i, u := range urls {
		out[i], _ = m.Fetch(ctx, u)
	}
	return out, nil
}

func (m *mapTransport) SupportsBatchFetching() bool { return true }
func (m *mapTransport) Close() error                { return nil }

const workerTestHTML = `<html><head><title>t</title></head><body><a href="/a">a</a><a href="/b">b</a></body></html>`

func TestWorkerProcessFetchesAllURLsAndReportsLinks(t *testing.T) {
	transport := &mapTransport{responses: map[string]crawl.FetchResponse{
		"https://example.com/":  {URL: "https://example.com/", StatusCode: 200, HTML: workerTestHTML},
		"https://example.com/2": {URL: "https://example.com/2", StatusCode: 200, HTML: workerTestHTML},
	}}
	w := NewWorker("w1", transport, WithWorkerPlugins(newWorkerTestPlugins()))

	result := w.Process(context.Background(), Task{
		ID:    "t1",
		URLs:  []string{"https://example.com/", "https://example.com/2"},
		Depth: 0,
	})

	if result.TaskID != "t1" {
		t.Fatalf("expected task id echoed back")
	}
	if len(result.PartialGraph.Nodes) != 2 {
		t.Fatalf("expected 2 nodes in the partial graph, got %d", len(result.PartialGraph.Nodes))
	}
	if len(result.Failures) != 0 {
		t.Fatalf("expected no failures, got %+v", result.Failures)
	}
	if len(result.DiscoveredURLs) == 0 {
		t.Fatalf("expected discovered links from the extracted anchors")
	}
}

func TestWorkerProcessDeduplicatesWithinTask(t *testing.T) {
	transport := &mapTransport{responses: map[string]crawl.FetchResponse{
		"https://example.com/": {URL: "https://example.com/", StatusCode: 200, HTML: workerTestHTML},
	}}
	w := NewWorker("w1", transport)

	result := w.Process(context.Background(), Task{
		ID:    "t1",
		URLs:  []string{"https://example.com/", "https://example.com/", "https://example.com/#frag"},
		Depth: 0,
	})

	if len(result.PartialGraph.Nodes) != 1 {
		t.Fatalf("expected idempotency key (normalized URL) to dedupe within the task, got %d nodes", len(result.PartialGraph.Nodes))
	}
}

func TestWorkerProcessIsolatesPerURLFailure(t *testing.T) {
	transport := &mapTransport{responses: map[string]crawl.FetchResponse{
		"https://example.com/good": {URL: "https://example.com/good", StatusCode: 200, HTML: workerTestHTML},
		"https://example.com/bad":  {Err: errors.New("network down")},
	}}
	w := NewWorker("w1", transport)

	result := w.Process(context.Background(), Task{
		ID:    "t1",
		URLs:  []string{"https://example.com/good", "https://example.com/bad"},
		Depth: 0,
	})

	if len(result.PartialGraph.Nodes) != 1 {
		t.Fatalf("expected the good URL to still produce a node, got %d", len(result.PartialGraph.Nodes))
	}
	if len(result.Failures) != 1 || result.Failures[0].URL != "https://example.com/bad" {
		t.Fatalf("expected one failure recorded for the bad URL, got %+v", result.Failures)
	}
}

func TestWorkerRunConsumesAndPublishesResults(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	transport := &mapTransport{responses: map[string]crawl.FetchResponse{
		"https://example.com/": {URL: "https://example.com/", StatusCode: 200, HTML: workerTestHTML},
	}}
	w := NewWorker("w1", transport)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go w.Run(ctx, broker, QueueBatch, 4)

	if err := broker.Enqueue(ctx, Task{ID: "t1", Queue: QueueBatch, URLs: []string{"https://example.com/"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	result, err := broker.AwaitResult(ctx, "t1")
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if len(result.PartialGraph.Nodes) != 1 {
		t.Fatalf("expected 1 node in the worker's result, got %d", len(result.PartialGraph.Nodes))
	}
}
