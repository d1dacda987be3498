// Package registry creates, refreshes and resolves result set ids.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/loykin/resultset/internal/active"
	"github.com/loykin/resultset/internal/blob"
	"github.com/loykin/resultset/internal/errdefs"
	"github.com/loykin/resultset/internal/history"
	"github.com/loykin/resultset/internal/metrics"
	"github.com/loykin/resultset/internal/snapshot"
	"github.com/loykin/resultset/internal/store"
)

// MaxIDLength bounds accepted ids. Generated ids are 26 characters.
const MaxIDLength = 64

// Registry is safe for concurrent use. Every operation runs under the shared
// lock of the holder, so it sees one configuration from start to end.
type Registry struct {
	holder *active.Holder
	now    func() time.Time
	sinks  history.Sinks
}

type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// WithSinks sets the destinations of created events.
func WithSinks(s history.Sinks) Option { return func(r *Registry) { r.sinks = s } }

func New(holder *active.Holder, opts ...Option) *Registry {
	r := &Registry{holder: holder, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ValidID reports whether id has the shape of a result set id.
func ValidID(id string) bool {
	if id == "" || len(id) > MaxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !('0' <= c && c <= '9' || 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z') {
			return false
		}
	}
	return true
}

// Create stores s under a fresh id and returns the id.
func (r *Registry) Create(ctx context.Context, s snapshot.Snapshot) (string, error) {
	var rec store.Record
	err := r.holder.View(func(c *active.Config) error {
		data, err := c.Codec.Encode(s)
		if err != nil {
			return fmt.Errorf("%w: %v", errdefs.ErrInvalid, err)
		}
		now := r.now()
		u, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
		if err != nil {
			return errdefs.Store("generate id", err)
		}
		ms := now.UnixMilli()
		next := store.Record{ID: u.String(), Created: ms, Updated: ms}
		if err := c.Store.Insert(ctx, next); err != nil {
			return errdefs.Store("insert record", err)
		}
		if err := c.Files.Write(snapshot.FileName(next.ID), data); err != nil {
			if _, derr := c.Store.Delete(ctx, store.ByID(next.ID)); derr != nil {
				slog.Warn("remove record after failed snapshot write", "id", next.ID, "error", derr)
			}
			return errdefs.Store("write snapshot", err)
		}
		rec = next
		return nil
	})
	if err != nil {
		return "", err
	}
	metrics.IncCreated()
	slog.Debug("result set created", "id", rec.ID)
	// outside the holder lock
	r.sinks.Emit(ctx, history.Event{Type: history.EventCreated, OccurredAt: time.UnixMilli(rec.Created).UTC(), Record: rec})
	return rec.ID, nil
}

// Touch marks id as used now, extending its lifetime.
func (r *Registry) Touch(ctx context.Context, id string) error {
	if !ValidID(id) {
		return errdefs.NotFound(id)
	}
	return r.holder.View(func(c *active.Config) error {
		return r.touch(ctx, c, id)
	})
}

// Load returns the snapshot stored under id without refreshing it.
func (r *Registry) Load(ctx context.Context, id string) (snapshot.Snapshot, error) {
	if !ValidID(id) {
		return snapshot.Snapshot{}, errdefs.NotFound(id)
	}
	var s snapshot.Snapshot
	err := r.holder.View(func(c *active.Config) error {
		var err error
		s, err = r.load(c, id)
		return err
	})
	return s, err
}

// Lookup is the page request path: touch, then load, in one locked section
// so a sweep cannot run between the two.
func (r *Registry) Lookup(ctx context.Context, id string) (snapshot.Snapshot, error) {
	if !ValidID(id) {
		metrics.IncLookup(metrics.LookupMiss)
		return snapshot.Snapshot{}, errdefs.NotFound(id)
	}
	var s snapshot.Snapshot
	err := r.holder.View(func(c *active.Config) error {
		if err := r.touch(ctx, c, id); err != nil {
			return err
		}
		var err error
		s, err = r.load(c, id)
		return err
	})
	switch {
	case err == nil:
		metrics.IncLookup(metrics.LookupHit)
	case errdefs.IsNotFound(err):
		metrics.IncLookup(metrics.LookupMiss)
	default:
		metrics.IncLookup(metrics.LookupError)
	}
	return s, err
}

// List returns every index row, oldest first.
func (r *Registry) List(ctx context.Context) ([]store.Record, error) {
	var out []store.Record
	err := r.holder.View(func(c *active.Config) error {
		recs, err := c.Store.Select(ctx, store.All())
		if err != nil {
			return errdefs.Store("list records", err)
		}
		out = recs
		return nil
	})
	return out, err
}

func (r *Registry) touch(ctx context.Context, c *active.Config, id string) error {
	n, err := c.Store.Update(ctx, store.ByID(id), r.now().UnixMilli())
	if err != nil {
		return errdefs.Store("touch record", err)
	}
	if n == 0 {
		return errdefs.NotFound(id)
	}
	return nil
}

func (r *Registry) load(c *active.Config, id string) (snapshot.Snapshot, error) {
	data, err := c.Files.Read(snapshot.FileName(id))
	if errors.Is(err, blob.ErrNotExist) {
		return snapshot.Snapshot{}, errdefs.NotFound(id)
	}
	if err != nil {
		return snapshot.Snapshot{}, errdefs.Store("read snapshot", err)
	}
	s, err := c.Codec.Decode(data)
	if err != nil {
		return snapshot.Snapshot{}, errdefs.Store("decode snapshot", err)
	}
	return s, nil
}
