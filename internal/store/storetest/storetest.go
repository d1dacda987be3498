// Package storetest holds a behavioral suite every store kind must pass.
package storetest

import (
	"context"
	"testing"

	"github.com/loykin/resultset/internal/store"
)

// Run exercises s against the row contract. s must be empty; Run closes it.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	// idempotent
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema twice: %v", err)
	}

	rows := []store.Record{
		{ID: "a1", Created: 1000, Updated: 1000},
		{ID: "b2", Created: 2000, Updated: 2500},
		{ID: "c3", Created: 3000, Updated: 3000},
	}
	for _, r := range rows {
		if err := s.Insert(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.ID, err)
		}
	}
	if err := s.Insert(ctx, rows[0]); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	got, err := s.Select(ctx, store.All())
	if err != nil {
		t.Fatalf("select all: %v", err)
	}
	if len(got) != 3 || got[0] != rows[0] || got[2] != rows[2] {
		t.Fatalf("unexpected rows: %+v", got)
	}

	n, err := s.Update(ctx, store.ByID("a1"), 4000)
	if err != nil || n != 1 {
		t.Fatalf("update a1: n=%d err=%v", n, err)
	}
	n, err = s.Update(ctx, store.ByID("missing"), 4000)
	if err != nil || n != 0 {
		t.Fatalf("update missing: n=%d err=%v", n, err)
	}
	one, err := s.Select(ctx, store.ByID("a1"))
	if err != nil || len(one) != 1 || one[0].Updated != 4000 || one[0].Created != 1000 {
		t.Fatalf("after update: %+v err=%v", one, err)
	}

	stale, err := s.Select(ctx, store.UpdatedBefore(3000))
	if err != nil {
		t.Fatalf("select stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "b2" {
		t.Fatalf("expected only b2 stale, got %+v", stale)
	}

	// rolled back delete leaves rows untouched
	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if n, err := tx.Delete(ctx, store.All()); err != nil || n != 3 {
		t.Fatalf("tx delete all: n=%d err=%v", n, err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got, _ := s.Select(ctx, store.All()); len(got) != 3 {
		t.Fatalf("rollback lost rows: %+v", got)
	}

	// committed delete removes exactly the selected rows
	tx, err = s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	sel, err := tx.Select(ctx, store.UpdatedBefore(3500))
	if err != nil || len(sel) != 2 {
		t.Fatalf("tx select: %+v err=%v", sel, err)
	}
	if n, err := tx.Delete(ctx, store.UpdatedBefore(3500)); err != nil || n != 2 {
		t.Fatalf("tx delete: n=%d err=%v", n, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	left, _ := s.Select(ctx, store.All())
	if len(left) != 1 || left[0].ID != "a1" {
		t.Fatalf("expected only a1 left, got %+v", left)
	}

	if err := s.ResetSchema(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got, _ := s.Select(ctx, store.All()); len(got) != 0 {
		t.Fatalf("reset left rows: %+v", got)
	}
}

// RunCopy checks that CopyAll moves every row verbatim from src to an empty dst.
func RunCopy(t *testing.T, src, dst store.Store) {
	t.Helper()
	ctx := context.Background()
	for _, s := range []store.Store{src, dst} {
		if err := s.EnsureSchema(ctx); err != nil {
			t.Fatalf("ensure schema: %v", err)
		}
	}
	want := []store.Record{
		{ID: "01HZX0000000000000000000A1", Created: 1700000000001, Updated: 1700000000005},
		{ID: "01HZX0000000000000000000B2", Created: 1700000000002, Updated: 1700000000002},
	}
	for _, r := range want {
		if err := src.Insert(ctx, r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	n, err := store.CopyAll(ctx, src, dst)
	if err != nil || n != len(want) {
		t.Fatalf("copy: n=%d err=%v", n, err)
	}
	got, err := dst.Select(ctx, store.All())
	if err != nil {
		t.Fatalf("select dst: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("copied %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}
