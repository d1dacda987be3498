package clickhouse

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/resultset/internal/history"
)

var tableRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects with the default account.
func New(addr, table string) (*Sink, error) {
	return NewWithAuth(addr, clickhouse.Auth{Database: "default", Username: "default"}, table)
}

// NewWithAuth connects to addr (host:port of the native protocol) and creates
// table when it does not exist.
func NewWithAuth(addr string, auth clickhouse.Auth, table string) (*Sink, error) {
	if !tableRe.MatchString(table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", table)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: auth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureTable(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureTable(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			type String,
			occurred_at DateTime64(6),
			record_id String,
			record_created Int64,
			record_updated Int64,
			detail Nullable(String)
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, record_id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, record_id, record_created, record_updated, detail) VALUES (?, ?, ?, ?, ?, ?)`, s.table)

	var detail *string
	if e.Detail != "" {
		detail = &e.Detail
	}
	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		e.Record.ID,
		e.Record.Created,
		e.Record.Updated,
		detail,
	)

	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}

	return nil
}
