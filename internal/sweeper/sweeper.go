// Package sweeper evicts result sets whose last touch is older than the TTL.
// It does not schedule itself; the host calls Sweep from its own scheduler.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/resultset/internal/active"
	"github.com/loykin/resultset/internal/blob"
	"github.com/loykin/resultset/internal/errdefs"
	"github.com/loykin/resultset/internal/history"
	"github.com/loykin/resultset/internal/metrics"
	"github.com/loykin/resultset/internal/snapshot"
	"github.com/loykin/resultset/internal/store"
)

// Result describes one sweep. Err wraps errdefs.ErrEviction when the pass was
// rolled back.
type Result struct {
	Threshold int64
	Evicted   int
	Remaining int
	Err       error
}

type Sweeper struct {
	holder *active.Holder
	now    func() time.Time
	sinks  history.Sinks
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

func WithSinks(sinks history.Sinks) Option { return func(s *Sweeper) { s.sinks = sinks } }

func New(holder *active.Holder, opts ...Option) *Sweeper {
	s := &Sweeper{holder: holder, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sweep removes every record not touched within the TTL, together with its
// snapshot. It holds the exclusive lock for the whole pass; history events go
// out after the lock is released. Failures roll the row deletion back, are
// logged and reported in Result; Sweep never panics and never returns an
// error to request handlers.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	start := time.Now()
	var res Result
	var evicted []store.Record
	err := s.holder.Exclusive(func(c *active.Config) error {
		res.Threshold = s.now().Add(-c.TTL).UnixMilli()
		recs, remaining, err := sweep(ctx, c, res.Threshold)
		if err != nil {
			return err
		}
		evicted = recs
		res.Evicted, res.Remaining = len(recs), remaining
		return nil
	})
	metrics.ObserveSweep(time.Since(start).Seconds(), err)
	if err != nil {
		if !errors.Is(err, errdefs.ErrNotConfigured) {
			err = fmt.Errorf("%w: %w", errdefs.ErrEviction, err)
		}
		res.Err = err
		slog.Warn("sweep failed; will retry on next run", "error", err)
		return res
	}
	metrics.AddEvicted(res.Evicted)
	metrics.SetActiveEntries(res.Remaining)
	if res.Evicted > 0 {
		slog.Info("sweep evicted result sets", "count", res.Evicted, "threshold", res.Threshold)
	}
	// outside the holder lock
	for _, rec := range evicted {
		s.sinks.Emit(ctx, history.Event{Type: history.EventEvicted, Record: rec})
	}
	return res
}

func sweep(ctx context.Context, c *active.Config, threshold int64) (evicted []store.Record, remaining int, err error) {
	f := store.UpdatedBefore(threshold)
	tx, err := c.Store.BeginTx(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				slog.Warn("sweep rollback failed", "error", rerr)
			}
		}
	}()

	stale, err := tx.Select(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("select expired: %w", err)
	}
	for _, rec := range stale {
		if derr := c.Files.Delete(snapshot.FileName(rec.ID)); derr != nil && !errors.Is(derr, blob.ErrNotExist) {
			return nil, 0, fmt.Errorf("delete snapshot %s: %w", rec.ID, derr)
		}
	}
	if _, err = tx.Delete(ctx, f); err != nil {
		return nil, 0, fmt.Errorf("delete expired: %w", err)
	}
	left, err := tx.Select(ctx, store.All())
	if err != nil {
		return nil, 0, fmt.Errorf("count remaining: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit: %w", err)
	}
	return stale, len(left), nil
}
