package history

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// HistoryTable is the append-only table written by SQLSink.
const HistoryTable = "result_set_history"

// SQLDialect describes the differences between the SQL databases a sink can
// write to.
type SQLDialect struct {
	Name string
	// Numbered selects $1 placeholders instead of ?.
	Numbered bool
	// Schema is the CREATE TABLE statement for HistoryTable.
	Schema string
}

var (
	SQLiteDialect = SQLDialect{
		Name: "sqlite",
		Schema: `CREATE TABLE IF NOT EXISTS ` + HistoryTable + `(
			timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			id TEXT NOT NULL,
			created INTEGER NOT NULL,
			updated INTEGER NOT NULL,
			detail TEXT
		);`,
	}
	PostgresDialect = SQLDialect{
		Name:     "postgres",
		Numbered: true,
		Schema: `CREATE TABLE IF NOT EXISTS ` + HistoryTable + `(
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			event TEXT NOT NULL,
			id VARCHAR(64) NOT NULL,
			created BIGINT NOT NULL,
			updated BIGINT NOT NULL,
			detail TEXT
		);`,
	}
)

// SQLSink appends events to HistoryTable. It is independent of the result
// set store and never reads from it.
type SQLSink struct {
	db      *sql.DB
	dialect SQLDialect
}

// NewSQLSink creates the history table if needed. On error db is closed.
func NewSQLSink(ctx context.Context, db *sql.DB, d SQLDialect) (*SQLSink, error) {
	if _, err := db.ExecContext(ctx, d.Schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLSink{db: db, dialect: d}, nil
}

func (s *SQLSink) ph(n int) string {
	if s.dialect.Numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	marks := make([]string, 6)
	for i := range marks {
		marks[i] = s.ph(i + 1)
	}
	var detail any
	if e.Detail != "" {
		detail = e.Detail
	}
	rec := e.Record
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+HistoryTable+`(timestamp, event, id, created, updated, detail) VALUES(`+strings.Join(marks, ", ")+`);`,
		e.OccurredAt.UTC(), string(e.Type), rec.ID, rec.Created, rec.Updated, detail)
	return err
}

// Count returns the number of stored events of type t.
func (s *SQLSink) Count(ctx context.Context, t EventType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+HistoryTable+` WHERE event = `+s.ph(1), string(t)).Scan(&n)
	return n, err
}

func (s *SQLSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
