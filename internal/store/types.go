package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Table is the logical table holding result set bookkeeping rows.
const Table = "RESULT_SET"

var (
	ErrClosed    = errors.New("store closed")
	ErrDuplicate = errors.New("duplicate result set id")
)

// Config describes a backing store connection.
// Type selects the builder: "sqlite", "postgres" (alias "postgresql"), "mysql" or "memory".
type Config struct {
	Type string `toml:"type" yaml:"type" json:"type" mapstructure:"type"`

	// Database is the file path for sqlite and the database name for network kinds.
	Database string `toml:"database,omitempty" yaml:"database,omitempty" json:"database,omitempty" mapstructure:"database"`
	Host     string `toml:"host,omitempty" yaml:"host,omitempty" json:"host,omitempty" mapstructure:"host"`
	Port     int    `toml:"port,omitempty" yaml:"port,omitempty" json:"port,omitempty" mapstructure:"port"`
	Schema   string `toml:"schema,omitempty" yaml:"schema,omitempty" json:"schema,omitempty" mapstructure:"schema"`
	User     string `toml:"user,omitempty" yaml:"user,omitempty" json:"user,omitempty" mapstructure:"user"`
	Password string `toml:"password,omitempty" yaml:"password,omitempty" json:"password,omitempty" mapstructure:"password"`
	SSLMode  string `toml:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty" mapstructure:"sslmode"`

	// Connection pooling
	MaxOpenConns int           `toml:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty" mapstructure:"max_open_conns"`
	MaxIdleConns int           `toml:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty" mapstructure:"max_idle_conns"`
	ConnMaxAge   time.Duration `toml:"conn_max_age,omitempty" yaml:"conn_max_age,omitempty" json:"conn_max_age,omitempty" mapstructure:"conn_max_age"`

	// Additional driver options appended to the DSN.
	Options map[string]string `toml:"options,omitempty" yaml:"options,omitempty" json:"options,omitempty" mapstructure:"options"`
}

// Identity is the part of a Config that names a physical store.
// Credentials are deliberately absent so that rotating them never triggers a migration.
type Identity struct {
	Type     string
	Database string
	Host     string
	Port     int
	Schema   string
}

// String renders the identity for logs, e.g. "postgres://db.local:5432/app?schema=paging".
func (i Identity) String() string {
	var b strings.Builder
	b.WriteString(i.Type)
	b.WriteString("://")
	if i.Host != "" {
		b.WriteString(i.Host)
		if i.Port != 0 {
			b.WriteString(":" + strconv.Itoa(i.Port))
		}
		b.WriteString("/")
	}
	b.WriteString(i.Database)
	if i.Schema != "" {
		b.WriteString("?schema=" + i.Schema)
	}
	return b.String()
}

// NormalizeType folds store type aliases onto their canonical name.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch t {
	case "postgresql", "pgx", "pg":
		return "postgres"
	case "sqlite3":
		return "sqlite"
	}
	return t
}

// Identity returns the connection identity of c.
func (c Config) Identity() Identity {
	return Identity{
		Type:     NormalizeType(c.Type),
		Database: strings.TrimSpace(c.Database),
		Host:     strings.ToLower(strings.TrimSpace(c.Host)),
		Port:     c.Port,
		Schema:   strings.TrimSpace(c.Schema),
	}
}

// SameIdentity reports whether a and b point at the same physical store.
func SameIdentity(a, b Config) bool { return a.Identity() == b.Identity() }

// Redacted returns a copy of c that is safe to log or serve.
func (c Config) Redacted() Config {
	out := c
	if out.Password != "" {
		out.Password = "******"
	}
	if len(c.Options) > 0 {
		out.Options = make(map[string]string, len(c.Options))
		for k, v := range c.Options {
			out.Options[k] = v
		}
	}
	return out
}

// Record is one row of the RESULT_SET table. Timestamps are unix milliseconds.
type Record struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
}

// Queryer is the row-level surface shared by a Store and a Tx.
type Queryer interface {
	Insert(ctx context.Context, rec Record) error
	// Update sets the updated column on every row matching f and returns the count.
	Update(ctx context.Context, f Filter, updated int64) (int64, error)
	Delete(ctx context.Context, f Filter) (int64, error)
	Select(ctx context.Context, f Filter) ([]Record, error)
}

// Store is a backing store holding the RESULT_SET table.
type Store interface {
	Queryer

	// EnsureSchema creates the table when absent.
	EnsureSchema(ctx context.Context) error
	// ResetSchema drops and recreates the table, leaving it empty.
	ResetSchema(ctx context.Context) error

	BeginTx(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close() error
	Config() Config
}

// Tx is a transaction on a Store.
type Tx interface {
	Queryer
	Commit() error
	Rollback() error
}
