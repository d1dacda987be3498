package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// Dialect captures what differs between the SQL backends.
type Dialect struct {
	Name string
	// Numbered selects $1-style placeholders instead of '?'.
	Numbered bool
	// Create returns the statements that create table (and anything it lives in) when absent.
	Create func(table string) []string
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	sqlQueries
	db     *sql.DB
	config Config
}

// SQLTransaction wraps a database/sql transaction.
type SQLTransaction struct {
	sqlQueries
	tx *sql.Tx
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqlQueries struct {
	q       execQuerier
	dialect Dialect
	table   string
}

// NewSQLStore wraps an opened database handle. table is the fully qualified table name.
func NewSQLStore(db *sql.DB, dialect Dialect, table string, config Config) *SQLStore {
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	}
	return &SQLStore{
		sqlQueries: sqlQueries{q: db, dialect: dialect, table: table},
		db:         db,
		config:     config,
	}
}

func (s *SQLStore) Config() Config { return s.config }

// DB exposes the underlying handle for kind-specific setup.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, q := range s.dialect.Create(s.table) {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema %s: %w", s.table, err)
		}
	}
	return nil
}

func (s *SQLStore) ResetSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.table); err != nil {
		return fmt.Errorf("drop %s: %w", s.table, err)
	}
	return s.EnsureSchema(ctx)
}

func (s *SQLStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &SQLTransaction{
		sqlQueries: sqlQueries{q: tx, dialect: s.dialect, table: s.table},
		tx:         tx,
	}, nil
}

func (t *SQLTransaction) Commit() error   { return t.tx.Commit() }
func (t *SQLTransaction) Rollback() error { return t.tx.Rollback() }

// binder hands out placeholders in argument order.
func (q sqlQueries) binder() func() string {
	n := 0
	return func() string {
		n++
		if q.dialect.Numbered {
			return "$" + strconv.Itoa(n)
		}
		return "?"
	}
}

func (q sqlQueries) Insert(ctx context.Context, rec Record) error {
	next := q.binder()
	stmt := fmt.Sprintf("INSERT INTO %s (ID, created, updated) VALUES (%s, %s, %s)", q.table, next(), next(), next())
	_, err := q.q.ExecContext(ctx, stmt, rec.ID, rec.Created, rec.Updated)
	return err
}

func (q sqlQueries) Update(ctx context.Context, f Filter, updated int64) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	next := q.binder()
	set := next()
	where, args := f.where(next)
	res, err := q.q.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET updated = %s%s", q.table, set, where), append([]any{updated}, args...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q sqlQueries) Delete(ctx context.Context, f Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	where, args := f.where(q.binder())
	res, err := q.q.ExecContext(ctx, "DELETE FROM "+q.table+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q sqlQueries) Select(ctx context.Context, f Filter) ([]Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	where, args := f.where(q.binder())
	rows, err := q.q.QueryContext(ctx, "SELECT ID, created, updated FROM "+q.table+where+" ORDER BY created, ID", args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	out := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Created, &r.Updated); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
