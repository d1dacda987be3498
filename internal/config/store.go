package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/loykin/resultset/internal/active"
	"github.com/loykin/resultset/internal/blob"
	"github.com/loykin/resultset/internal/errdefs"
	"github.com/loykin/resultset/internal/history"
	"github.com/loykin/resultset/internal/metrics"
	"github.com/loykin/resultset/internal/snapshot"
	"github.com/loykin/resultset/internal/store"
	storefactory "github.com/loykin/resultset/internal/store/factory"
)

// Opener builds a store handle from its connection parameters.
type Opener func(store.Config) (store.Store, error)

// Store loads the registry properties and keeps the active configuration in
// step with them.
type Store struct {
	holder   *active.Holder
	path     string
	dataRoot string
	fs       afero.Fs
	open     Opener
	sinks    history.Sinks

	mu      sync.Mutex
	watcher *Watcher
}

type Option func(*Store)

// WithFs sets the filesystem used for the properties file and the storage root.
func WithFs(fs afero.Fs) Option { return func(s *Store) { s.fs = fs } }

// WithOpener replaces the store factory.
func WithOpener(open Opener) Option { return func(s *Store) { s.open = open } }

// WithSinks sets the destinations of migration events.
func WithSinks(sinks history.Sinks) Option { return func(s *Store) { s.sinks = sinks } }

// New returns a Store publishing into holder. path may be empty when the
// configuration is supplied through Reconfigure only.
func New(holder *active.Holder, path, dataRoot string, opts ...Option) *Store {
	s := &Store{
		holder:   holder,
		path:     path,
		dataRoot: dataRoot,
		fs:       afero.NewOsFs(),
		open:     storefactory.Open,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Holder() *active.Holder { return s.holder }

func (s *Store) Path() string { return s.path }

// Load parses the properties file and publishes the initial configuration.
func (s *Store) Load(ctx context.Context) error {
	p, err := s.parse()
	if err != nil {
		slog.Error("load registry properties failed", "path", s.path, "error", err)
		return err
	}
	return s.Reconfigure(ctx, p)
}

// ReloadFile re-reads the properties file and applies it.
func (s *Store) ReloadFile(ctx context.Context) error {
	p, err := s.parse()
	if err != nil {
		slog.Error("reload registry properties failed", "path", s.path, "error", err)
		metrics.IncReconfigure(err)
		return err
	}
	return s.Reconfigure(ctx, p)
}

func (s *Store) parse() (Properties, error) {
	if s.path == "" {
		return Properties{}, errdefs.Configuration("no properties file configured")
	}
	return ParsePropertiesFs(s.fs, s.path, s.dataRoot)
}

// Reconfigure applies p under the exclusive lock. Everything that can fail
// happens before the new configuration is built; on failure the previous
// configuration stays active. Releasing the old store handle and deleting the
// old storage root also happen under the lock, once the new configuration is
// ready, and only log on failure. Migration events are emitted after the lock
// is released.
func (s *Store) Reconfigure(ctx context.Context, p Properties) error {
	if err := p.Validate(); err != nil {
		metrics.IncReconfigure(err)
		return err
	}
	var events []history.Event
	err := s.holder.Update(func(old *active.Config) (*active.Config, error) {
		t, err := s.prepare(ctx, old, p)
		if err != nil {
			return nil, err
		}
		for _, fn := range t.cleanup {
			fn()
		}
		events = t.events
		return t.next, nil
	})
	metrics.IncReconfigure(err)
	if err != nil {
		slog.Error("reconfigure failed; keeping previous configuration", "error", err)
		return err
	}
	slog.Info("registry configuration applied",
		"store", p.Store.Identity().String(),
		"storage_root", p.StorageRoot,
		"ttl", p.TTL.String(),
		"compress", p.Compress,
	)
	for _, e := range events {
		s.sinks.Emit(ctx, e)
	}
	return nil
}

// transition is a prepared configuration change: the config to publish, what
// to release from the old one, and the history it produced.
type transition struct {
	next    *active.Config
	cleanup []func()
	events  []history.Event
}

func (s *Store) prepare(ctx context.Context, old *active.Config, p Properties) (transition, error) {
	t := transition{next: &active.Config{
		StoreConfig: p.Store,
		TTL:         p.TTL,
		Codec:       snapshot.Codec{Compress: p.Compress},
	}}
	next := t.next

	opened := false
	switch {
	case old != nil && old.Store != nil && store.SameIdentity(old.StoreConfig, p.Store):
		next.Store = old.Store
		if old.StoreConfig.User != p.Store.User || old.StoreConfig.Password != p.Store.Password {
			slog.Info("store credentials changed; keeping open handle", "store", p.Store.Identity().String())
		}
	default:
		ns, err := s.open(p.Store)
		if err != nil {
			return transition{}, errdefs.ConfigurationErr("open store "+p.Store.Identity().String(), err)
		}
		if old == nil || old.Store == nil {
			err = ns.EnsureSchema(ctx)
		} else {
			var e history.Event
			if e, err = migrate(ctx, old, ns); err == nil {
				t.events = append(t.events, e)
			}
		}
		if err != nil {
			_ = ns.Close()
			return transition{}, errdefs.ConfigurationErr("prepare store "+p.Store.Identity().String(), err)
		}
		next.Store = ns
		opened = true
		if old != nil && old.Store != nil {
			prev, id := old.Store, old.StoreConfig.Identity().String()
			t.cleanup = append(t.cleanup, func() {
				if err := prev.Close(); err != nil {
					slog.Warn("close previous store failed", "store", id, "error", err)
				}
			})
		}
	}

	root := filepath.Clean(p.StorageRoot)
	if old != nil && old.Files != nil && old.Files.Root() == root {
		next.Files = old.Files
	} else {
		files := blob.NewWithFs(s.fs, root)
		if err := files.EnsureDir(); err != nil {
			if opened {
				_ = next.Store.Close()
			}
			return transition{}, errdefs.ConfigurationErr("prepare storage root", err)
		}
		next.Files = files
		if old != nil && old.Files != nil {
			t.cleanup = append(t.cleanup, removeRoot(old.Files, root))
		}
	}
	return t, nil
}

// migrate empties target and copies every row of the old store into it in
// one transaction.
func migrate(ctx context.Context, old *active.Config, target store.Store) (history.Event, error) {
	if err := target.ResetSchema(ctx); err != nil {
		return history.Event{}, fmt.Errorf("reset target schema: %w", err)
	}
	n, err := store.CopyAll(ctx, old.Store, target)
	if err != nil {
		return history.Event{}, fmt.Errorf("migrate rows: %w", err)
	}
	metrics.AddMigrated(n)
	from, to := old.StoreConfig.Identity().String(), target.Config().Identity().String()
	slog.Info("migrated result set index", "rows", n, "from", from, "to", to)
	return history.Event{
		Type:       history.EventMigrated,
		OccurredAt: time.Now().UTC(),
		Detail:     fmt.Sprintf("%d rows from %s to %s", n, from, to),
	}, nil
}

// removeRoot deletes the previous storage root. Blobs are not moved, so ids
// created under it stop resolving. A previous root that contains the new one
// is left in place.
func removeRoot(prev *blob.FileStore, newRoot string) func() {
	return func() {
		if within(newRoot, prev.Root()) {
			slog.Warn("previous storage root contains the new one; not deleting", "old", prev.Root(), "new", newRoot)
			return
		}
		if err := prev.RemoveAll(); err != nil {
			slog.Warn("delete previous storage root failed", "path", prev.Root(), "error", err)
			return
		}
		slog.Info("deleted previous storage root", "path", prev.Root())
	}
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Watch starts a file watcher that reloads the properties on change. It is a
// no-op when already watching.
func (s *Store) Watch() error {
	if s.path == "" {
		return errdefs.Configuration("no properties file configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return nil
	}
	w, err := NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Watch(s.path); err != nil {
		_ = w.Stop()
		return err
	}
	w.OnChange(func(string) {
		_ = s.ReloadFile(context.Background())
	})
	w.StartAsync()
	s.watcher = w
	return nil
}

// Close stops the watcher and releases the active store handle.
func (s *Store) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		_ = w.Stop()
	}
	return s.holder.Close()
}
