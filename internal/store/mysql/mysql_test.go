package mysql

import (
	"strings"
	"testing"

	"github.com/loykin/resultset/internal/store"
)

func TestDSNDefaultsAndSchema(t *testing.T) {
	dsn := DSN(store.Config{Type: "mysql", Database: "rs", User: "u", Password: "p"})
	if !strings.HasPrefix(dsn, "u:p@tcp(localhost:3306)/rs") {
		t.Fatalf("unexpected dsn: %s", dsn)
	}
	dsn = DSN(store.Config{Type: "mysql", Database: "rs", Schema: "other", Host: "db", Port: 3307})
	if !strings.Contains(dsn, "tcp(db:3307)/other") {
		t.Fatalf("schema should replace database: %s", dsn)
	}
}

func TestNewRequiresDatabase(t *testing.T) {
	if _, err := New(store.Config{Type: "mysql"}); err == nil {
		t.Fatalf("expected error without database")
	}
	s, err := New(store.Config{Type: "mysql", Database: "rs"})
	if err != nil {
		t.Fatalf("lazy open should not fail: %v", err)
	}
	_ = s.Close()
}
