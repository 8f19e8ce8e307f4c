package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crawlgraph/crawlgraph/crawl"
)

const (
	defaultNodeTable = "crawlgraph_nodes"
	defaultEdgeTable = "crawlgraph_edges"
	defaultMetaTable = "crawlgraph_meta"
)

// Querier abstracts the pgx query methods PostgresStorage needs, so
// callers can inject either a *pgxpool.Pool or a single pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStorage is a PostgreSQL-backed Storage. Table names are
// sanitized via pgx.Identifier since they are interpolated into queries
// with fmt.Sprintf (pgx placeholders only cover values, not identifiers).
type PostgresStorage struct {
	db        Querier
	pool      *pgxpool.Pool
	nodeTable string
	edgeTable string
	metaTable string
}

// Option configures optional PostgresStorage behavior.
type Option func(*PostgresStorage)

// WithTablePrefix overrides the default table names, each suffixed with
// _nodes/_edges/_meta and sanitized to prevent SQL injection.
func WithTablePrefix(prefix string) Option {
	return func(s *PostgresStorage) {
		s.nodeTable = pgx.Identifier{prefix + "_nodes"}.Sanitize()
		s.edgeTable = pgx.Identifier{prefix + "_edges"}.Sanitize()
		s.metaTable = pgx.Identifier{prefix + "_meta"}.Sanitize()
	}
}

// NewPostgresStorage connects to Postgres via a pooled connection and
// migrates its schema. The caller owns the returned pool's lifetime
// through Close.
func NewPostgresStorage(ctx context.Context, connString string, opts ...Option) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("storage: connect postgres: %w", err)
	}
	s := NewPostgresStorageFromQuerier(pool, opts...)
	s.pool = pool
	if err := s.createTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStorageFromQuerier wraps an existing Querier (a pool or a
// transaction) without taking ownership of its lifetime; Close is a no-op
// in that case.
func NewPostgresStorageFromQuerier(db Querier, opts ...Option) *PostgresStorage {
	s := &PostgresStorage{
		db:        db,
		nodeTable: defaultNodeTable,
		edgeTable: defaultEdgeTable,
		metaTable: defaultMetaTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStorage) createTables(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			node_id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			depth INTEGER NOT NULL,
			should_scan BOOLEAN NOT NULL,
			can_create_edges BOOLEAN NOT NULL,
			scanned BOOLEAN NOT NULL,
			response_status INTEGER,
			metadata JSONB NOT NULL,
			user_data JSONB NOT NULL,
			content_hash TEXT,
			priority INTEGER,
			created_at TIMESTAMPTZ NOT NULL,
			lifecycle_stage TEXT NOT NULL,
			seq INTEGER NOT NULL
		)`, s.nodeTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			edge_id TEXT PRIMARY KEY,
			source_node_id TEXT NOT NULL,
			target_node_id TEXT NOT NULL,
			metadata JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			seq INTEGER NOT NULL
		)`, s.edgeTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			stats JSONB NOT NULL
		)`, s.metaTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage: create tables: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) SaveGraph(ctx context.Context, dto crawl.GraphDTO) (bool, error) {
	for _, stmt := range []string{
		fmt.Sprintf("DELETE FROM %s", s.nodeTable),
		fmt.Sprintf("DELETE FROM %s", s.edgeTable),
		fmt.Sprintf("DELETE FROM %s", s.metaTable),
	} {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return false, crawl.NewCrawlError(crawl.KindStorageFailure, "", err)
		}
	}

	insertNode := fmt.Sprintf(`INSERT INTO %s
		(node_id, url, depth, should_scan, can_create_edges, scanned, response_status,
		 metadata, user_data, content_hash, priority, created_at, lifecycle_stage, seq)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, s.nodeTable)
	for i, n := range dto.Nodes {
		metaJSON, _ := json.Marshal(n.Metadata)
		userJSON, _ := json.Marshal(n.UserData)
		_, err := s.db.Exec(ctx, insertNode,
			n.NodeID, n.URL, n.Depth, n.ShouldScan, n.CanCreateEdges, n.Scanned, n.ResponseStatus,
			metaJSON, userJSON, n.ContentHash, n.Priority, n.CreatedAt, n.LifecycleStage, i)
		if err != nil {
			return false, crawl.NewCrawlError(crawl.KindStorageFailure, n.URL, err)
		}
	}

	insertEdge := fmt.Sprintf(`INSERT INTO %s
		(edge_id, source_node_id, target_node_id, metadata, created_at, seq)
		VALUES ($1,$2,$3,$4,$5,$6)`, s.edgeTable)
	for i, e := range dto.Edges {
		metaJSON, _ := json.Marshal(e.Metadata)
		_, err := s.db.Exec(ctx, insertEdge, e.EdgeID, e.SourceNodeID, e.TargetNodeID, metaJSON, e.CreatedAt, i)
		if err != nil {
			return false, crawl.NewCrawlError(crawl.KindStorageFailure, e.EdgeID, err)
		}
	}

	statsJSON, _ := json.Marshal(dto.Stats)
	insertMeta := fmt.Sprintf(`INSERT INTO %s (id, stats) VALUES (1, $1)`, s.metaTable)
	if _, err := s.db.Exec(ctx, insertMeta, statsJSON); err != nil {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, "", err)
	}
	return true, nil
}

func (s *PostgresStorage) LoadGraph(ctx context.Context) (*crawl.GraphDTO, error) {
	exists, err := s.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	dto := &crawl.GraphDTO{}

	nodeRows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT node_id, url, depth, should_scan, can_create_edges,
		scanned, response_status, metadata, user_data, content_hash, priority, created_at, lifecycle_stage
		FROM %s ORDER BY seq ASC`, s.nodeTable))
	if err != nil {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, "", err)
	}
	defer nodeRows.Close()

	for nodeRows.Next() {
		var n crawl.NodeDTO
		var metaJSON, userJSON []byte
		if err := nodeRows.Scan(&n.NodeID, &n.URL, &n.Depth, &n.ShouldScan, &n.CanCreateEdges,
			&n.Scanned, &n.ResponseStatus, &metaJSON, &userJSON, &n.ContentHash, &n.Priority,
			&n.CreatedAt, &n.LifecycleStage); err != nil {
			return nil, crawl.NewCrawlError(crawl.KindStorageFailure, "", err)
		}
		_ = json.Unmarshal(metaJSON, &n.Metadata)
		_ = json.Unmarshal(userJSON, &n.UserData)
		dto.Nodes = append(dto.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, "", err)
	}

	edgeRows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT edge_id, source_node_id, target_node_id, metadata, created_at
		FROM %s ORDER BY seq ASC`, s.edgeTable))
	if err != nil {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, "", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e crawl.EdgeDTO
		var metaJSON []byte
		if err := edgeRows.Scan(&e.EdgeID, &e.SourceNodeID, &e.TargetNodeID, &metaJSON, &e.CreatedAt); err != nil {
			return nil, crawl.NewCrawlError(crawl.KindStorageFailure, "", err)
		}
		_ = json.Unmarshal(metaJSON, &e.Metadata)
		dto.Edges = append(dto.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, crawl.NewCrawlError(crawl.KindStorageFailure, "", err)
	}

	var statsJSON []byte
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT stats FROM %s WHERE id = 1`, s.metaTable))
	if err := row.Scan(&statsJSON); err == nil {
		_ = json.Unmarshal(statsJSON, &dto.Stats)
	}

	return dto, nil
}

func (s *PostgresStorage) Exists(ctx context.Context) (bool, error) {
	var count int
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id = 1`, s.metaTable))
	if err := row.Scan(&count); err != nil {
		return false, crawl.NewCrawlError(crawl.KindStorageFailure, "", err)
	}
	return count > 0, nil
}

func (s *PostgresStorage) Clear(ctx context.Context) (bool, error) {
	for _, stmt := range []string{
		fmt.Sprintf("DELETE FROM %s", s.nodeTable),
		fmt.Sprintf("DELETE FROM %s", s.edgeTable),
		fmt.Sprintf("DELETE FROM %s", s.metaTable),
	} {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return false, crawl.NewCrawlError(crawl.KindStorageFailure, "", err)
		}
	}
	return true, nil
}

// Close releases the owned connection pool. If PostgresStorage was built
// from an externally owned Querier via NewPostgresStorageFromQuerier, the
// caller owns that connection's lifetime and Close is a no-op.
func (s *PostgresStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
