package storage

import (
	"context"
	"sync"

	"github.com/crawlgraph/crawlgraph/crawl"
)

// MemoryStorage is an in-memory Storage backend: a mutex-guarded struct
// holding the single latest snapshot. A crawl's GraphDTO has no
// step/checkpoint concept, so there is no history to keep.
type MemoryStorage struct {
	mu     sync.RWMutex
	dto    *crawl.GraphDTO
	closed bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) SaveGraph(_ context.Context, dto crawl.GraphDTO) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, "", ErrClosed)
	}
	cp := dto
	cp.Nodes = append([]crawl.NodeDTO(nil), dto.Nodes...)
	cp.Edges = append([]crawl.EdgeDTO(nil), dto.Edges...)
	s.dto = &cp
	return true, nil
}

func (s *MemoryStorage) LoadGraph(_ context.Context) (*crawl.GraphDTO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, "", ErrClosed)
	}
	if s.dto == nil {
		return nil, nil
	}
	cp := *s.dto
	return &cp, nil
}

func (s *MemoryStorage) Exists(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dto != nil, nil
}

func (s *MemoryStorage) Clear(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dto = nil
	return true, nil
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
