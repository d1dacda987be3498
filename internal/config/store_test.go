package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/loykin/resultset/internal/active"
	"github.com/loykin/resultset/internal/errdefs"
	"github.com/loykin/resultset/internal/history"
	"github.com/loykin/resultset/internal/store"
	"github.com/loykin/resultset/internal/store/memory"
)

func memProps(db, root string) Properties {
	return Properties{
		TTL:         time.Minute,
		StorageRoot: root,
		Store:       store.Config{Type: "memory", Database: db},
	}
}

// countingOpener opens memory stores and remembers them by database name.
type countingOpener struct {
	opened map[string]*memory.Store
	calls  int
	fail   map[string]error
}

func newOpener() *countingOpener {
	return &countingOpener{opened: map[string]*memory.Store{}, fail: map[string]error{}}
}

func (o *countingOpener) open(cfg store.Config) (store.Store, error) {
	o.calls++
	if err := o.fail[cfg.Database]; err != nil {
		return nil, err
	}
	if s, ok := o.opened[cfg.Database]; ok {
		return s, nil
	}
	s := memory.New(cfg)
	o.opened[cfg.Database] = s
	return s, nil
}

type recordingSink struct{ events []history.Event }

func (r *recordingSink) Send(_ context.Context, e history.Event) error {
	r.events = append(r.events, e)
	return nil
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *countingOpener, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	o := newOpener()
	s := New(active.NewHolder(), "", "", append([]Option{WithFs(fs), WithOpener(o.open)}, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s, o, fs
}

func seed(t *testing.T, s store.Store, ids ...string) []store.Record {
	t.Helper()
	var out []store.Record
	for i, id := range ids {
		r := store.Record{ID: id, Created: int64(100 + i), Updated: int64(200 + i)}
		if err := s.Insert(context.Background(), r); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
		out = append(out, r)
	}
	return out
}

func TestInitialReconfigurePublishes(t *testing.T) {
	s, o, fs := newTestStore(t)
	if err := s.Reconfigure(context.Background(), memProps("a", "/data/a")); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	cur := s.Holder().Current()
	if cur == nil || cur.Store != o.opened["a"] || cur.TTL != time.Minute {
		t.Fatalf("unexpected active config %+v", cur)
	}
	if ok, _ := afero.DirExists(fs, "/data/a"); !ok {
		t.Fatalf("storage root not created")
	}
}

func TestCredentialsOnlyChangeDoesNotMigrate(t *testing.T) {
	s, o, _ := newTestStore(t)
	ctx := context.Background()
	p := memProps("a", "/data")
	p.Store.User, p.Store.Password = "u1", "p1"
	if err := s.Reconfigure(ctx, p); err != nil {
		t.Fatal(err)
	}
	seed(t, o.opened["a"], "01A")
	first := s.Holder().Current()

	p.Store.User, p.Store.Password = "u2", "p2"
	if err := s.Reconfigure(ctx, p); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	cur := s.Holder().Current()
	if o.calls != 1 {
		t.Fatalf("expected no new store to be opened, got %d opens", o.calls)
	}
	if cur.Store != first.Store || cur.Files != first.Files {
		t.Fatalf("handles replaced on credentials-only change")
	}
	if cur.StoreConfig.User != "u2" || cur.StoreConfig.Password != "p2" {
		t.Fatalf("new credentials not recorded: %+v", cur.StoreConfig)
	}
	if err := first.Store.Ping(ctx); err != nil {
		t.Fatalf("kept handle closed: %v", err)
	}
}

func TestStoreChangeMigratesRowsVerbatim(t *testing.T) {
	sink := &recordingSink{}
	s, o, _ := newTestStore(t, WithSinks(history.Sinks{sink}))
	ctx := context.Background()
	if err := s.Reconfigure(ctx, memProps("a", "/data")); err != nil {
		t.Fatal(err)
	}
	want := seed(t, o.opened["a"], "01A", "01B", "01C")

	// the target already holds a stale row; it must be wiped first
	target := memory.New(store.Config{Type: "memory", Database: "b"})
	seed(t, target, "STALE")
	o.opened["b"] = target

	if err := s.Reconfigure(ctx, memProps("b", "/data")); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	got, err := target.Select(ctx, store.All())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d: want %+v got %+v", i, want[i], got[i])
		}
	}
	if err := o.opened["a"].Ping(ctx); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("old store not released: %v", err)
	}
	if s.Holder().Current().Store != target {
		t.Fatalf("new store not published")
	}
	if len(sink.events) != 1 || sink.events[0].Type != history.EventMigrated {
		t.Fatalf("expected one migrated event, got %+v", sink.events)
	}
}

func TestFailedReconfigureKeepsPrevious(t *testing.T) {
	s, o, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.Reconfigure(ctx, memProps("a", "/data")); err != nil {
		t.Fatal(err)
	}
	seed(t, o.opened["a"], "01A")
	before := s.Holder().Current()

	o.fail["down"] = errors.New("connection refused")
	err := s.Reconfigure(ctx, memProps("down", "/other"))
	if !errors.Is(err, errdefs.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if s.Holder().Current() != before {
		t.Fatalf("failed reconfigure replaced the active configuration")
	}
	if err := before.Store.Ping(ctx); err != nil {
		t.Fatalf("previous store closed after failure: %v", err)
	}
	if n := o.opened["a"].Len(); n != 1 {
		t.Fatalf("previous store lost rows: %d", n)
	}
}

func TestFailedRootClosesNewStore(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	o := newOpener()
	s := New(active.NewHolder(), "", "", WithOpener(o.open))
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	if err := s.Reconfigure(ctx, memProps("a", filepath.Join(dir, "root"))); err != nil {
		t.Fatal(err)
	}
	before := s.Holder().Current()

	err := s.Reconfigure(ctx, memProps("b", filepath.Join(blocker, "root")))
	if !errors.Is(err, errdefs.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if s.Holder().Current() != before {
		t.Fatalf("active configuration replaced")
	}
	if err := o.opened["b"].Ping(ctx); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("new store left open after failure: %v", err)
	}
	if err := o.opened["a"].Ping(ctx); err != nil {
		t.Fatalf("old store closed: %v", err)
	}
}

// Blobs are not carried over to a new storage root; the old tree is removed.
func TestRootChangeDeletesOldTreeWithoutMigration(t *testing.T) {
	s, _, fs := newTestStore(t)
	ctx := context.Background()
	if err := s.Reconfigure(ctx, memProps("a", "/data/old")); err != nil {
		t.Fatal(err)
	}
	if err := s.Holder().Current().Files.Write("01A.snapshot", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if err := s.Reconfigure(ctx, memProps("a", "/data/new")); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if ok, _ := afero.Exists(fs, "/data/old"); ok {
		t.Fatalf("old storage root still exists")
	}
	files := s.Holder().Current().Files
	if files.Root() != "/data/new" {
		t.Fatalf("root not switched: %s", files.Root())
	}
	if ok, _ := files.Exists("01A.snapshot"); ok {
		t.Fatalf("blob was migrated to the new root")
	}
}

func TestRootChangeKeepsEnclosingOldRoot(t *testing.T) {
	s, _, fs := newTestStore(t)
	ctx := context.Background()
	if err := s.Reconfigure(ctx, memProps("a", "/data")); err != nil {
		t.Fatal(err)
	}
	if err := s.Reconfigure(ctx, memProps("a", "/data/nested")); err != nil {
		t.Fatal(err)
	}
	if ok, _ := afero.DirExists(fs, "/data/nested"); !ok {
		t.Fatalf("new root removed together with the enclosing old root")
	}
}

func TestTTLOnlyChange(t *testing.T) {
	s, o, _ := newTestStore(t)
	ctx := context.Background()
	p := memProps("a", "/data")
	if err := s.Reconfigure(ctx, p); err != nil {
		t.Fatal(err)
	}
	first := s.Holder().Current()
	p.TTL = time.Hour
	p.Compress = true
	if err := s.Reconfigure(ctx, p); err != nil {
		t.Fatal(err)
	}
	cur := s.Holder().Current()
	if cur.TTL != time.Hour || !cur.Codec.Compress {
		t.Fatalf("ttl/compress not applied: %+v", cur)
	}
	if cur.Store != first.Store || cur.Files != first.Files || o.calls != 1 {
		t.Fatalf("handles replaced on ttl change")
	}
}

func TestReconfigureRejectsInvalid(t *testing.T) {
	s, o, _ := newTestStore(t)
	if err := s.Reconfigure(context.Background(), Properties{}); !errors.Is(err, errdefs.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if o.calls != 0 || s.Holder().Current() != nil {
		t.Fatalf("invalid properties reached the store")
	}
}

func TestLoadFromFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/etc/rs.properties", []byte("ttl=2\nstorage.root=${DATA_ROOT}/blobs\nstore.type=memory\nstore.database=main\n"), 0o644)
	s := New(active.NewHolder(), "/etc/rs.properties", "/srv", WithFs(fs))
	defer func() { _ = s.Close() }()
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	cur := s.Holder().Current()
	if cur.TTL != 2*time.Second || cur.Files.Root() != "/srv/blobs" || cur.StoreConfig.Database != "main" {
		t.Fatalf("unexpected config %+v", cur)
	}

	_ = afero.WriteFile(fs, "/etc/rs.properties", []byte("ttl=9\nstorage.root=${DATA_ROOT}/blobs\nstore.type=memory\nstore.database=main\n"), 0o644)
	if err := s.ReloadFile(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s.Holder().Current().TTL != 9*time.Second {
		t.Fatalf("reload did not apply ttl")
	}

	_ = afero.WriteFile(fs, "/etc/rs.properties", []byte("ttl=\n"), 0o644)
	if err := s.ReloadFile(context.Background()); !errors.Is(err, errdefs.ErrConfiguration) {
		t.Fatalf("expected configuration error for broken file, got %v", err)
	}
	if s.Holder().Current().TTL != 9*time.Second {
		t.Fatalf("broken file replaced configuration")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rs.properties")
	write := func(ttl string) {
		body := "ttl=" + ttl + "\nstorage.root=${DATA_ROOT}/blobs\nstore.type=memory\nstore.database=w\n"
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("1")
	s := New(active.NewHolder(), path, dir)
	defer func() { _ = s.Close() }()
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.Watch(); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := s.Watch(); err != nil {
		t.Fatalf("second watch: %v", err)
	}
	write("42")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Holder().Current().TTL == 42*time.Second {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("watcher did not reload; ttl=%s", s.Holder().Current().TTL)
}

func TestWatcherDebouncesAndFilters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.properties")
	other := filepath.Join(dir, "other.properties")
	_ = os.WriteFile(path, []byte("a=1"), 0o600)

	w, err := NewWatcher(WithDebounce(100 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Stop() }()
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	w.OnChange(func(p string) {
		if filepath.Base(p) != "watched.properties" {
			t.Errorf("callback for unexpected file %s", p)
		}
		calls.Add(1)
	})
	w.StartAsync()

	_ = os.WriteFile(other, []byte("b=1"), 0o600)
	for i := 0; i < 5; i++ {
		_ = os.WriteFile(path, []byte("a=2"), 0o600)
		time.Sleep(10 * time.Millisecond)
	}
	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected one debounced callback, got %d", n)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

// gatedFs holds RemoveAll of one path until release is closed.
type gatedFs struct {
	afero.Fs
	path    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedFs) RemoveAll(path string) error {
	if path == g.path {
		close(g.entered)
		<-g.release
	}
	return g.Fs.RemoveAll(path)
}

// A reconfigure that switches back to the previous root must wait until the
// earlier switch has finished deleting it.
func TestBackToBackRootChangesKeepActiveRoot(t *testing.T) {
	gfs := &gatedFs{Fs: afero.NewMemMapFs(), path: "/data/a", entered: make(chan struct{}), release: make(chan struct{})}
	o := newOpener()
	s := New(active.NewHolder(), "", "", WithFs(gfs), WithOpener(o.open))
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()
	if err := s.Reconfigure(ctx, memProps("a", "/data/a")); err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() { first <- s.Reconfigure(ctx, memProps("a", "/data/b")) }()
	<-gfs.entered

	second := make(chan error, 1)
	go func() { second <- s.Reconfigure(ctx, memProps("a", "/data/a")) }()
	select {
	case err := <-second:
		t.Fatalf("second reconfigure finished while the first still held the lock: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(gfs.release)
	if err := <-first; err != nil {
		t.Fatalf("first reconfigure: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second reconfigure: %v", err)
	}
	cur := s.Holder().Current()
	if cur.Files.Root() != "/data/a" {
		t.Fatalf("unexpected active root %s", cur.Files.Root())
	}
	if ok, _ := afero.DirExists(gfs, "/data/a"); !ok {
		t.Fatalf("active storage root /data/a was deleted")
	}
	if err := cur.Files.Write("01A.snapshot", []byte("{}")); err != nil {
		t.Fatalf("write into active root: %v", err)
	}
}

func TestMigrationEventSentAfterLock(t *testing.T) {
	var sawLock atomic.Bool
	var s *Store
	sink := sinkFn(func(e history.Event) {
		locked := make(chan struct{})
		go func() {
			_ = s.Holder().Exclusive(func(*active.Config) error { return nil })
			close(locked)
		}()
		select {
		case <-locked:
			sawLock.Store(true)
		case <-time.After(2 * time.Second):
		}
	})
	s, _, _ = newTestStore(t, WithSinks(history.Sinks{sink}))
	ctx := context.Background()
	if err := s.Reconfigure(ctx, memProps("a", "/data")); err != nil {
		t.Fatal(err)
	}
	if err := s.Reconfigure(ctx, memProps("b", "/data")); err != nil {
		t.Fatal(err)
	}
	if !sawLock.Load() {
		t.Fatalf("migration event delivered while the holder lock was held")
	}
}

type sinkFn func(history.Event)

func (f sinkFn) Send(_ context.Context, e history.Event) error { f(e); return nil }
