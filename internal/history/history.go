package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/resultset/internal/store"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventCreated  EventType = "created"
	EventEvicted  EventType = "evicted"
	EventMigrated EventType = "migrated"
)

// Event represents a result set lifecycle event exported to external systems.
// Detail carries free-form context, e.g. the target store of a migration.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Record     store.Record `json:"record"`
	Detail     string       `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Sinks fans an event out to every sink. Delivery failures are logged and
// never reach the registry caller.
type Sinks []Sink

func (s Sinks) Emit(ctx context.Context, e Event) {
	if len(s) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, sink := range s {
		if err := sink.Send(ctx, e); err != nil {
			slog.Warn("history sink send failed", "event", e.Type, "id", e.Record.ID, "error", err)
		}
	}
}

// Close closes every sink that holds resources.
func (s Sinks) Close() {
	for _, sink := range s {
		if c, ok := sink.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}
