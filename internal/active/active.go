// Package active holds the live registry configuration and the single
// read/write lock that orders every registry operation against reconfiguration
// and sweeps.
package active

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/resultset/internal/blob"
	"github.com/loykin/resultset/internal/errdefs"
	"github.com/loykin/resultset/internal/snapshot"
	"github.com/loykin/resultset/internal/store"
)

// Config is one published configuration. It is never mutated after publication;
// a change produces a new Config.
type Config struct {
	Store       store.Store
	StoreConfig store.Config
	Files       *blob.FileStore
	TTL         time.Duration
	Codec       snapshot.Codec
}

// Holder owns the current Config and the lock around it. Create one per
// registry at startup and hand it to every component.
type Holder struct {
	mu  sync.RWMutex
	cur atomic.Pointer[Config]
}

func NewHolder() *Holder { return &Holder{} }

// View runs fn with the shared lock held. Many Views run concurrently; none
// overlaps an Exclusive or Update.
func (h *Holder) View(fn func(*Config) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.cur.Load()
	if c == nil {
		return errdefs.ErrNotConfigured
	}
	return fn(c)
}

// Exclusive runs fn with the exclusive lock held without replacing the Config.
func (h *Holder) Exclusive(fn func(*Config) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.cur.Load()
	if c == nil {
		return errdefs.ErrNotConfigured
	}
	return fn(c)
}

// Update runs fn with the exclusive lock held and publishes its result when fn
// succeeds. old is nil before the first publication. On error the current
// Config stays in place.
func (h *Holder) Update(fn func(old *Config) (*Config, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := fn(h.cur.Load())
	if err != nil {
		return err
	}
	if next == nil {
		return errors.New("update produced no configuration")
	}
	h.cur.Store(next)
	return nil
}

// Current returns the published Config without locking. Callers must treat it
// as a read-only snapshot; the store handle may be closed by a later Update.
func (h *Holder) Current() *Config { return h.cur.Load() }

// Close releases the store handle and forgets the Config.
func (h *Holder) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.cur.Swap(nil)
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}
