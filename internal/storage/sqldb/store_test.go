package sqldb

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/service-gateway/internal/core/domain"
	"github.com/tjfontaine/service-gateway/internal/core/ports"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLDBStore_AppendAndList(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	created := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	event := &domain.GatewayEvent{
		ID:         "evt-1",
		Type:       domain.EventHealthTransition,
		Service:    "user-service",
		InstanceID: "u1",
		Detail:     "healthy",
		CreatedAt:  created,
	}
	if err := store.AppendEvent(ctx, event); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	events, err := store.ListEvents(ctx, ports.EventListOptions{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len = %d, want 1", len(events))
	}

	got := events[0]
	if got.ID != "evt-1" || got.Type != domain.EventHealthTransition || got.Service != "user-service" || got.InstanceID != "u1" {
		t.Errorf("unexpected event %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
}

func TestSQLDBStore_FilterOrderLimit(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	types := []domain.EventType{domain.EventAbusePattern, domain.EventRateLimited, domain.EventAbusePattern, domain.EventAbusePattern}
	for i, typ := range types {
		err := store.AppendEvent(ctx, &domain.GatewayEvent{
			ID:        fmt.Sprintf("evt-%d", i),
			Type:      typ,
			ClientIP:  "10.0.0.1",
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	events, err := store.ListEvents(ctx, ports.EventListOptions{Type: domain.EventAbusePattern, Limit: 2})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].ID != "evt-3" || events[1].ID != "evt-2" {
		t.Errorf("got %s,%s want evt-3,evt-2", events[0].ID, events[1].ID)
	}
}

func TestSQLDBStore_DuplicateID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	e := &domain.GatewayEvent{ID: "dup", Type: domain.EventRateLimited, CreatedAt: time.Now()}
	if err := store.AppendEvent(ctx, e); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if err := store.AppendEvent(ctx, e); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestSQLDBStore_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.db")

	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	err = store.AppendEvent(context.Background(), &domain.GatewayEvent{ID: "persisted", Type: domain.EventAbusePattern, CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	store.Close()

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	events, err := reopened.ListEvents(context.Background(), ports.EventListOptions{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].ID != "persisted" {
		t.Fatalf("events = %+v", events)
	}
}
