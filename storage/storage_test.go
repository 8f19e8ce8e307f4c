package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/crawlgraph/crawlgraph/crawl"
)

func sampleDTO() crawl.GraphDTO {
	status := 200
	return crawl.GraphDTO{
		Nodes: []crawl.NodeDTO{
			{NodeID: "n1", URL: "https://example.com/", Depth: 0, ShouldScan: true, Scanned: true, ResponseStatus: &status, LifecycleStage: "HTML_STAGE"},
			{NodeID: "n2", URL: "https://example.com/a", Depth: 1, ShouldScan: true, LifecycleStage: "URL_STAGE"},
		},
		Edges: []crawl.EdgeDTO{
			{EdgeID: "e1", SourceNodeID: "n1", TargetNodeID: "n2"},
		},
		Stats: crawl.GraphStats{TotalNodes: 2, ScannedNodes: 1, UnscannedNodes: 1, TotalEdges: 1, MaxDepth: 1},
	}
}

func testStorageRoundTrip(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	exists, err := s.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists on empty store: %v", err)
	}
	if exists {
		t.Fatal("expected empty store to report not existing")
	}

	loaded, err := s.LoadGraph(ctx)
	if err != nil {
		t.Fatalf("LoadGraph on empty store: %v", err)
	}
	if loaded != nil {
		t.Fatal("expected nil GraphDTO from empty store")
	}

	dto := sampleDTO()
	ok, err := s.SaveGraph(ctx, dto)
	if err != nil || !ok {
		t.Fatalf("SaveGraph: ok=%v err=%v", ok, err)
	}

	exists, err = s.Exists(ctx)
	if err != nil || !exists {
		t.Fatalf("expected store to report existing after save: exists=%v err=%v", exists, err)
	}

	got, err := s.LoadGraph(ctx)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if got == nil {
		t.Fatal("expected non-nil GraphDTO after save")
	}
	if len(got.Nodes) != 2 || len(got.Edges) != 1 {
		t.Fatalf("got %d nodes, %d edges; want 2, 1", len(got.Nodes), len(got.Edges))
	}
	if got.Nodes[0].NodeID != "n1" || got.Nodes[1].NodeID != "n2" {
		t.Fatalf("node order not preserved: %+v", got.Nodes)
	}
	if got.Stats.TotalNodes != 2 {
		t.Fatalf("stats not round-tripped: %+v", got.Stats)
	}

	cleared, err := s.Clear(ctx)
	if err != nil || !cleared {
		t.Fatalf("Clear: ok=%v err=%v", cleared, err)
	}
	exists, err = s.Exists(ctx)
	if err != nil || exists {
		t.Fatalf("expected store empty after Clear: exists=%v err=%v", exists, err)
	}
}

func TestMemoryStorage_RoundTrip(t *testing.T) {
	testStorageRoundTrip(t, NewMemoryStorage())
}

func TestMemoryStorage_ClosedRejectsOperations(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := s.SaveGraph(ctx, sampleDTO()); !errors.Is(unwrapCrawlErr(err), ErrClosed) {
		t.Errorf("SaveGraph after Close: got %v, want ErrClosed", err)
	}
	if _, err := s.LoadGraph(ctx); !errors.Is(unwrapCrawlErr(err), ErrClosed) {
		t.Errorf("LoadGraph after Close: got %v, want ErrClosed", err)
	}
}

func TestMemoryStorage_SaveIsolatesCaller(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	dto := sampleDTO()

	if _, err := s.SaveGraph(ctx, dto); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}
	dto.Nodes[0].URL = "mutated"

	got, err := s.LoadGraph(ctx)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if got.Nodes[0].URL == "mutated" {
		t.Fatal("LoadGraph result aliases caller's post-save mutation")
	}
}

func TestMemoryStorage_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.SaveGraph(ctx, sampleDTO())
			_, _ = s.LoadGraph(ctx)
			_, _ = s.Exists(ctx)
		}()
	}
	wg.Wait()
}

func TestJSONStorage_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewJSONStorage(filepath.Join(dir, "graph.json"))
	testStorageRoundTrip(t, s)
}

func TestJSONStorage_LoadMissingFileReturnsNilNotError(t *testing.T) {
	dir := t.TempDir()
	s := NewJSONStorage(filepath.Join(dir, "missing.json"))
	got, err := s.LoadGraph(context.Background())
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil GraphDTO for missing file")
	}
}

func unwrapCrawlErr(err error) error {
	var ce *crawl.CrawlError
	if errors.As(err, &ce) {
		return ce.Unwrap()
	}
	return err
}
