// Package storage selects the gateway event store backend.
package storage

import (
	"fmt"

	"github.com/tjfontaine/service-gateway/internal/core/ports"
	"github.com/tjfontaine/service-gateway/internal/pkg/config"
	"github.com/tjfontaine/service-gateway/internal/storage/memory"
	"github.com/tjfontaine/service-gateway/internal/storage/sqldb"
)

// Re-export the store interface so callers need not import ports.
type (
	EventStore       = ports.EventStore
	EventListOptions = ports.EventListOptions
)

// Open returns the event store named by cfg.Type. "none" yields a nil store
// and disables the audit log.
func Open(cfg config.StorageConfig) (EventStore, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(memory.DefaultCapacity), nil
	case "sqlite":
		return sqldb.NewSQLite(cfg.SQLite.Path)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
