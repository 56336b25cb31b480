// Package sqldb provides a SQL-backed gateway event store.
package sqldb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
)

// Store is a SQL implementation of ports.EventStore.
type Store struct {
	db *sqlx.DB
}

var _ ports.EventStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // database/sql driver name
	DSN    string // Data source name / connection string
}

// New opens the database and creates the schema if needed.
func New(cfg Config) (*Store, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// Each connection to an in-memory database is a separate database.
		if cfg.DSN == ":memory:" || strings.Contains(cfg.DSN, "mode=memory") {
			db.SetMaxOpenConns(1)
		}
		for _, stmt := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to execute pragma: %w", err)
			}
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewSQLite opens (creating if needed) a SQLite database at dbPath.
func NewSQLite(dbPath string) (*Store, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS gateway_events (
seq INTEGER PRIMARY KEY AUTOINCREMENT,
id TEXT NOT NULL UNIQUE,
type TEXT NOT NULL,
service TEXT NOT NULL DEFAULT '',
instance_id TEXT NOT NULL DEFAULT '',
client_ip TEXT NOT NULL DEFAULT '',
method TEXT NOT NULL DEFAULT '',
url TEXT NOT NULL DEFAULT '',
detail TEXT NOT NULL DEFAULT '',
created_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_gateway_events_type ON gateway_events(type, seq)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, event *domain.GatewayEvent) error {
	e := *event
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO gateway_events
(id, type, service, instance_id, client_ip, method, url, detail, created_at)
VALUES (:id, :type, :service, :instance_id, :client_ip, :method, :url, :detail, :created_at)`, &e)
	if err != nil {
		return fmt.Errorf("append event %s: %w", event.ID, err)
	}
	return nil
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, opts ports.EventListOptions) ([]*domain.GatewayEvent, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, type, service, instance_id, client_ip, method, url, detail, created_at FROM gateway_events`
	var args []any
	if opts.Type != "" {
		query += ` WHERE type = ?`
		args = append(args, string(opts.Type))
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	var events []*domain.GatewayEvent
	if err := s.db.SelectContext(ctx, &events, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
