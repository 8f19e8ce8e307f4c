package storage

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/crawlgraph/crawlgraph/crawl"
)

// JSONStorage persists a single GraphDTO to a file on disk, pretty-printed
// so file diffs are meaningful; GraphDTO already emits nodes/edges in
// stable insertion order, this backend just adds the file I/O
// around it.
type JSONStorage struct {
	mu     sync.Mutex
	path   string
	closed bool
}

func NewJSONStorage(path string) *JSONStorage {
	return &JSONStorage{path: path}
}

func (s *JSONStorage) SaveGraph(_ context.Context, dto crawl.GraphDTO) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, ErrClosed)
	}
	data, err := json.MarshalIndent(dto, "", "  ")
	if err != nil {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}
	return true, nil
}

func (s *JSONStorage) LoadGraph(_ context.Context) (*crawl.GraphDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, ErrClosed)
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}
	var dto crawl.GraphDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}
	return &dto, nil
}

func (s *JSONStorage) Exists(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}
	return true, nil
}

func (s *JSONStorage) Clear(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}
	return true, nil
}

func (s *JSONStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
