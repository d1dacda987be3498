package postgres

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/resultset/internal/store"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func dialect(schema string) store.Dialect {
	return store.Dialect{
		Name:     "postgres",
		Numbered: true,
		Create: func(table string) []string {
			var stmts []string
			if schema != "" {
				stmts = append(stmts, `CREATE SCHEMA IF NOT EXISTS `+schema+`;`)
			}
			return append(stmts,
				`CREATE TABLE IF NOT EXISTS `+table+`(
					ID VARCHAR(64) NOT NULL PRIMARY KEY,
					created BIGINT NOT NULL,
					updated BIGINT NOT NULL
				);`,
				`CREATE INDEX IF NOT EXISTS idx_result_set_updated ON `+table+`(updated);`,
			)
		},
	}
}

// DSN builds a pgx connection URL from cfg.
func DSN(cfg store.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	q := url.Values{}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q.Set("sslmode", sslMode)
	keys := make([]string, 0, len(cfg.Options))
	for k := range cfg.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, cfg.Options[k])
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// New prepares a PostgreSQL store through the pgx stdlib driver.
// The connection is established lazily; callers verify reachability with Ping or EnsureSchema.
func New(cfg store.Config) (*store.SQLStore, error) {
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, fmt.Errorf("postgres store requires a database name")
	}
	schema := strings.TrimSpace(cfg.Schema)
	table := store.Table
	if schema != "" {
		if !identRe.MatchString(schema) {
			return nil, fmt.Errorf("invalid postgres schema name %q", schema)
		}
		table = schema + "." + store.Table
	}
	db, err := sql.Open("pgx", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	return store.NewSQLStore(db, dialect(schema), table, cfg), nil
}
