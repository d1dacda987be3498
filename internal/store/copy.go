package store

import (
	"context"
	"fmt"
)

// CopyAll copies every row of src into dst inside a single dst transaction.
// Rows keep their id, created and updated values. Nothing is committed on error.
func CopyAll(ctx context.Context, src, dst Store) (int, error) {
	rows, err := src.Select(ctx, All())
	if err != nil {
		return 0, fmt.Errorf("read source rows: %w", err)
	}
	tx, err := dst.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if err := tx.Insert(ctx, r); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("copy row %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit copy: %w", err)
	}
	return len(rows), nil
}
