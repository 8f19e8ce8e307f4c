package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crawlgraph/crawlgraph/crawl"
)

// SQLiteStorage is a SQLite-backed Storage: single-writer connection
// pool, WAL mode for concurrent reads, auto-migration on first use.
// A crawl graph has no history to version, so SaveGraph replaces the
// one stored snapshot inside a transaction; node/edge insertion order
// is preserved via an explicit seq column so LoadGraph round-trips
// stable ordering.
type SQLiteStorage struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens (creating if necessary) a SQLite database at
// path and migrates its schema. Use ":memory:" for a throwaway instance.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStorage{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS crawl_nodes (
			node_id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			depth INTEGER NOT NULL,
			should_scan INTEGER NOT NULL,
			can_create_edges INTEGER NOT NULL,
			scanned INTEGER NOT NULL,
			response_status INTEGER,
			metadata TEXT NOT NULL,
			user_data TEXT NOT NULL,
			content_hash TEXT,
			priority INTEGER,
			created_at TEXT NOT NULL,
			lifecycle_stage TEXT NOT NULL,
			seq INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS crawl_edges (
			edge_id TEXT PRIMARY KEY,
			source_node_id TEXT NOT NULL,
			target_node_id TEXT NOT NULL,
			metadata TEXT NOT NULL,
			created_at TEXT NOT NULL,
			seq INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS crawl_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			stats TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: create tables: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) SaveGraph(ctx context.Context, dto crawl.GraphDTO) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM crawl_nodes", "DELETE FROM crawl_edges", "DELETE FROM crawl_meta"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return false, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
		}
	}

	for i, n := range dto.Nodes {
		metaJSON, _ := json.Marshal(n.Metadata)
		userJSON, _ := json.Marshal(n.UserData)
		var status any
		if n.ResponseStatus != nil {
			status = *n.ResponseStatus
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO crawl_nodes
			(node_id, url, depth, should_scan, can_create_edges, scanned, response_status,
			 metadata, user_data, content_hash, priority, created_at, lifecycle_stage, seq)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			n.NodeID, n.URL, n.Depth, n.ShouldScan, n.CanCreateEdges, n.Scanned, status,
			string(metaJSON), string(userJSON), n.ContentHash, n.Priority,
			n.CreatedAt.Format(rfc3339), n.LifecycleStage, i)
		if err != nil {
			return false, crawl.NewCrawlError(crawl.KindStorageFailure, n.URL, err)
		}
	}

	for i, e := range dto.Edges {
		metaJSON, _ := json.Marshal(e.Metadata)
		_, err := tx.ExecContext(ctx, `INSERT INTO crawl_edges
			(edge_id, source_node_id, target_node_id, metadata, created_at, seq)
			VALUES (?,?,?,?,?,?)`,
			e.EdgeID, e.SourceNodeID, e.TargetNodeID, string(metaJSON), e.CreatedAt.Format(rfc3339), i)
		if err != nil {
			return false, crawl.NewCrawlError(crawl.KindStorageFailure, e.EdgeID, err)
		}
	}

	statsJSON, _ := json.Marshal(dto.Stats)
	if _, err := tx.ExecContext(ctx, `INSERT INTO crawl_meta (id, stats) VALUES (1, ?)`, string(statsJSON)); err != nil {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}

	if err := tx.Commit(); err != nil {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}
	return true, nil
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

func (s *SQLiteStorage) LoadGraph(ctx context.Context) (*crawl.GraphDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.existsLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	dto := &crawl.GraphDTO{}

	nodeRows, err := s.db.QueryContext(ctx, `SELECT node_id, url, depth, should_scan, can_create_edges,
		scanned, response_status, metadata, user_data, content_hash, priority, created_at, lifecycle_stage
		FROM crawl_nodes ORDER BY seq ASC`)
	if err != nil {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}
	defer nodeRows.Close()

	for nodeRows.Next() {
		var n crawl.NodeDTO
		var status sql.NullInt64
		var metaJSON, userJSON, createdAt string
		if err := nodeRows.Scan(&n.NodeID, &n.URL, &n.Depth, &n.ShouldScan, &n.CanCreateEdges,
			&n.Scanned, &status, &metaJSON, &userJSON, &n.ContentHash, &n.Priority, &createdAt, &n.LifecycleStage); err != nil {
			return nil, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
		}
		if status.Valid {
			v := int(status.Int64)
			n.ResponseStatus = &v
		}
		_ = json.Unmarshal([]byte(metaJSON), &n.Metadata)
		_ = json.Unmarshal([]byte(userJSON), &n.UserData)
		n.CreatedAt = parseTimeOrZero(createdAt)
		dto.Nodes = append(dto.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}

	edgeRows, err := s.db.QueryContext(ctx, `SELECT edge_id, source_node_id, target_node_id, metadata, created_at
		FROM crawl_edges ORDER BY seq ASC`)
	if err != nil {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e crawl.EdgeDTO
		var metaJSON, createdAt string
		if err := edgeRows.Scan(&e.EdgeID, &e.SourceNodeID, &e.TargetNodeID, &metaJSON, &createdAt); err != nil {
			return nil, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
		}
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		e.CreatedAt = parseTimeOrZero(createdAt)
		dto.Edges = append(dto.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}

	var statsJSON string
	row := s.db.QueryRowContext(ctx, `SELECT stats FROM crawl_meta WHERE id = 1`)
	if err := row.Scan(&statsJSON); err == nil {
		_ = json.Unmarshal([]byte(statsJSON), &dto.Stats)
	}

	return dto, nil
}

func (s *SQLiteStorage) Exists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsLocked(ctx)
}

func (s *SQLiteStorage) existsLocked(ctx context.Context) (bool, error) {
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawl_meta WHERE id = 1`)
	if err := row.Scan(&count); err != nil {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
	}
	return count > 0, nil
}

func (s *SQLiteStorage) Clear(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range []string{"DELETE FROM crawl_nodes", "DELETE FROM crawl_edges", "DELETE FROM crawl_meta"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return false, crawl.NewCrawlError(crawl.KindStorageFailure, s.path, err)
		}
	}
	return true, nil
}

func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func parseTimeOrZero(s string) time.Time {
	t, err := time.Parse(rfc3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
