// Package memory is a process-local Store. Rows live in a concurrent map and
// vanish with the process; it serves tests and single-node deployments that
// accept losing the registry on restart.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/loykin/resultset/internal/store"
)

type Store struct {
	rows     *xsync.MapOf[string, store.Record]
	commitMu sync.Mutex
	closed   atomic.Bool
	config   store.Config
}

func New(cfg store.Config) *Store {
	return &Store{rows: xsync.NewMapOf[string, store.Record](), config: cfg}
}

func (s *Store) Config() store.Config { return s.config }

// Len returns the number of rows.
func (s *Store) Len() int { return s.rows.Size() }

func (s *Store) check() error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) Ping(context.Context) error { return s.check() }

func (s *Store) EnsureSchema(context.Context) error { return s.check() }

func (s *Store) ResetSchema(context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	s.rows.Clear()
	return nil
}

func (s *Store) Insert(_ context.Context, rec store.Record) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, loaded := s.rows.LoadOrStore(rec.ID, rec); loaded {
		return store.ErrDuplicate
	}
	return nil
}

func (s *Store) Update(_ context.Context, f store.Filter, updated int64) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range s.matching(f) {
		s.rows.Compute(id, func(old store.Record, loaded bool) (store.Record, bool) {
			if !loaded {
				return old, true
			}
			old.Updated = updated
			n++
			return old, false
		})
	}
	return n, nil
}

func (s *Store) Delete(_ context.Context, f store.Filter) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range s.matching(f) {
		if _, ok := s.rows.LoadAndDelete(id); ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) Select(_ context.Context, f store.Filter) ([]store.Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := make([]store.Record, 0)
	s.rows.Range(func(_ string, r store.Record) bool {
		if f.Match(r) {
			out = append(out, r)
		}
		return true
	})
	sortRecords(out)
	return out, nil
}

func (s *Store) matching(f store.Filter) []string {
	if f.Column == store.ColumnID && f.Op == store.OpEq {
		id, _ := f.Value.(string)
		if _, ok := s.rows.Load(id); ok {
			return []string{id}
		}
		return nil
	}
	var ids []string
	s.rows.Range(func(id string, r store.Record) bool {
		if f.Match(r) {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

func (s *Store) BeginTx(context.Context) (store.Tx, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return &Tx{s: s, pending: make(map[string]*store.Record)}, nil
}

// Tx buffers writes and applies them on Commit. Reads inside the transaction
// see its own pending writes on top of the committed rows.
type Tx struct {
	s       *Store
	pending map[string]*store.Record // nil value marks a deletion
	done    bool
}

var errTxDone = errors.New("transaction already finished")

func (t *Tx) view() []store.Record {
	out := make([]store.Record, 0)
	t.s.rows.Range(func(id string, r store.Record) bool {
		if _, staged := t.pending[id]; !staged {
			out = append(out, r)
		}
		return true
	})
	for _, r := range t.pending {
		if r != nil {
			out = append(out, *r)
		}
	}
	sortRecords(out)
	return out
}

func (t *Tx) live() error {
	if t.done {
		return errTxDone
	}
	return t.s.check()
}

func (t *Tx) Insert(_ context.Context, rec store.Record) error {
	if err := t.live(); err != nil {
		return err
	}
	if p, staged := t.pending[rec.ID]; staged {
		if p != nil {
			return store.ErrDuplicate
		}
	} else if _, ok := t.s.rows.Load(rec.ID); ok {
		return store.ErrDuplicate
	}
	r := rec
	t.pending[rec.ID] = &r
	return nil
}

func (t *Tx) Update(_ context.Context, f store.Filter, updated int64) (int64, error) {
	if err := t.live(); err != nil {
		return 0, err
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range t.view() {
		if f.Match(r) {
			r.Updated = updated
			rr := r
			t.pending[r.ID] = &rr
			n++
		}
	}
	return n, nil
}

func (t *Tx) Delete(_ context.Context, f store.Filter) (int64, error) {
	if err := t.live(); err != nil {
		return 0, err
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range t.view() {
		if f.Match(r) {
			t.pending[r.ID] = nil
			n++
		}
	}
	return n, nil
}

func (t *Tx) Select(_ context.Context, f store.Filter) ([]store.Record, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := make([]store.Record, 0)
	for _, r := range t.view() {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *Tx) Commit() error {
	if err := t.live(); err != nil {
		return err
	}
	t.done = true
	t.s.commitMu.Lock()
	defer t.s.commitMu.Unlock()
	for id, r := range t.pending {
		if r == nil {
			t.s.rows.Delete(id)
		} else {
			t.s.rows.Store(id, *r)
		}
	}
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.pending = nil
	return nil
}

func sortRecords(rs []store.Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Created != rs[j].Created {
			return rs[i].Created < rs[j].Created
		}
		return rs[i].ID < rs[j].ID
	})
}
