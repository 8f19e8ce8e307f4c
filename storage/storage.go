// Package storage implements the GraphDTO persistence contract:
// save/load/exists/clear/close over the crawl graph's serialization-only
// mirror, with memory, JSON-file, SQLite, and PostgreSQL backends.
package storage

import (
	"context"

	"github.com/crawlgraph/crawlgraph/crawl"
)

// Storage is the narrow contract the coordinator never depends on at
// runtime but every persistence backend below satisfies.
type Storage interface {
	SaveGraph(ctx context.Context, dto crawl.GraphDTO) (bool, error)
	LoadGraph(ctx context.Context) (*crawl.GraphDTO, error)
	Exists(ctx context.Context) (bool, error)
	Clear(ctx context.Context) (bool, error)
	Close() error
}
