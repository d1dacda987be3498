package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/resultset/internal/history"
	"github.com/loykin/resultset/internal/store"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	clickHouseContainer, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := clickHouseContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(addr, "result_set_history")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	rec := store.Record{ID: "01HZX0000000000000000000CH", Created: 1000, Updated: 1000}
	if err := sink.Send(ctx, history.Event{Type: history.EventCreated, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		t.Fatalf("Failed to send created event: %v", err)
	}
	if err := sink.Send(ctx, history.Event{Type: history.EventMigrated, OccurredAt: time.Now().UTC(), Record: rec, Detail: "postgres"}); err != nil {
		t.Fatalf("Failed to send migrated event: %v", err)
	}

	row := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM result_set_history WHERE record_id = ?", rec.ID)
	var count uint64
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events, got %d", count)
	}
}

func TestClickHouseSink_InvalidTable(t *testing.T) {
	if _, err := New("localhost:9000", "bad table;"); err == nil {
		t.Fatalf("expected invalid table error")
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	if _, err := New("invalid-host:9000", "test_table"); err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}
