package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/resultset/internal/history"
	"github.com/loykin/resultset/internal/store"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	rec := store.Record{ID: "01HZX0000000000000000000A1", Created: 1000, Updated: 1000}

	if err := sink.Send(ctx, history.Event{Type: history.EventCreated, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		t.Fatalf("Failed to send created event: %v", err)
	}
	rec.Updated = 5000
	if err := sink.Send(ctx, history.Event{Type: history.EventEvicted, OccurredAt: time.Now().UTC(), Record: rec, Detail: "ttl"}); err != nil {
		t.Fatalf("Failed to send evicted event: %v", err)
	}

	for _, tc := range []struct {
		typ  history.EventType
		want int
	}{{history.EventCreated, 1}, {history.EventEvicted, 1}, {history.EventMigrated, 0}} {
		n, err := sink.Count(ctx, tc.typ)
		if err != nil {
			t.Fatalf("count %s: %v", tc.typ, err)
		}
		if n != tc.want {
			t.Fatalf("expected %d %s events, got %d", tc.want, tc.typ, n)
		}
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	event := history.Event{Type: history.EventMigrated, OccurredAt: time.Now().UTC(), Record: store.Record{ID: "x"}}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
