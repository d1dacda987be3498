package mysql

import (
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/loykin/resultset/internal/store"
)

// Dialect for MySQL/MariaDB. The index is declared inline because MySQL has no
// CREATE INDEX IF NOT EXISTS.
var Dialect = store.Dialect{
	Name: "mysql",
	Create: func(table string) []string {
		return []string{
			`CREATE TABLE IF NOT EXISTS ` + table + `(
				ID VARCHAR(64) NOT NULL PRIMARY KEY,
				created BIGINT NOT NULL,
				updated BIGINT NOT NULL,
				INDEX idx_result_set_updated (updated)
			)`,
		}
	},
}

// DSN renders cfg with the driver's own formatter. A schema, when given, takes the
// place of the database name since MySQL does not separate the two.
func DSN(cfg store.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	c.DBName = cfg.Database
	if s := strings.TrimSpace(cfg.Schema); s != "" {
		c.DBName = s
	}
	if len(cfg.Options) > 0 {
		c.Params = make(map[string]string, len(cfg.Options))
		for k, v := range cfg.Options {
			c.Params[k] = v
		}
	}
	return c.FormatDSN()
}

// New prepares a MySQL store. The connection is established lazily.
func New(cfg store.Config) (*store.SQLStore, error) {
	if strings.TrimSpace(cfg.Database) == "" && strings.TrimSpace(cfg.Schema) == "" {
		return nil, fmt.Errorf("mysql store requires a database name")
	}
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql database: %w", err)
	}
	return store.NewSQLStore(db, Dialect, store.Table, cfg), nil
}
