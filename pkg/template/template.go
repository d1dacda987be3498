package template

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/magiconair/properties"
)

// StoreType selects the backing store a generated properties file points at.
type StoreType string

const (
	TypeSQLite     StoreType = "sqlite"
	TypePostgres   StoreType = "postgres"
	TypePostgreSQL StoreType = "postgresql"
	TypeMySQL      StoreType = "mysql"
	TypeMemory     StoreType = "memory"
)

// DefaultTTLSeconds is the lifetime written into generated files.
const DefaultTTLSeconds = 300

// Generator provides template generation functionality
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates registry properties for the given store type. Paths use
// the ${DATA_ROOT} placeholder.
func (g *Generator) Generate(storeType StoreType) (*properties.Properties, error) {
	p := properties.NewProperties()
	p.DisableExpansion = true
	set(p, "ttl", fmt.Sprint(DefaultTTLSeconds), "Seconds a result set lives after its last use.")
	set(p, "storage.root", "${DATA_ROOT}/snapshots", "Directory holding one snapshot file per result set.")
	set(p, "snapshot.compress", "false", "")

	switch storeType {
	case TypeSQLite:
		set(p, "store.type", "sqlite", "Backing store for the result set index.")
		set(p, "store.database", "${DATA_ROOT}/resultset.db", "")
	case TypePostgres, TypePostgreSQL:
		network(p, "postgres", 5432)
		set(p, "store.schema", "public", "")
		set(p, "store.sslmode", "disable", "")
	case TypeMySQL:
		network(p, "mysql", 3306)
	case TypeMemory:
		set(p, "store.type", "memory", "Process-local index; lost on restart.")
	default:
		return nil, fmt.Errorf("unknown store type: %s (supported: %s)", storeType, strings.Join(g.GetSupportedTypes(), ", "))
	}
	return p, nil
}

// GenerateProperties renders Generate as a commented properties file.
func (g *Generator) GenerateProperties(storeType StoreType) ([]byte, error) {
	p, err := g.Generate(storeType)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := p.WriteComment(&buf, "# ", properties.UTF8); err != nil {
		return nil, fmt.Errorf("failed to write template: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateServerConfig returns a server TOML file pointing at propertiesPath.
func (g *Generator) GenerateServerConfig(propertiesPath, dataRoot string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "[server]\nlisten = %q\nbase_path = %q\n\n", ":8080", "/api")
	fmt.Fprintf(&b, "[log]\nlevel = %q\nformat = %q\n\n", "info", "text")
	fmt.Fprintf(&b, "[registry]\nproperties = %q\ndata_root = %q\nwatch = true\n\n", propertiesPath, dataRoot)
	fmt.Fprintf(&b, "[sweep]\nschedule = %q\n\n", "@every 1m")
	fmt.Fprintf(&b, "[metrics]\nenabled = true\n\n")
	fmt.Fprintf(&b, "[upstream]\n# url = %q\ntimeout = %q\n", "http://localhost:9000/wfs", "30s")
	return []byte(b.String())
}

// GetSupportedTypes returns a list of all supported store types
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeSQLite),
		string(TypePostgres),
		string(TypeMySQL),
		string(TypeMemory),
	}
}

func network(p *properties.Properties, kind string, port int) {
	set(p, "store.type", kind, "Backing store for the result set index.")
	set(p, "store.host", "localhost", "")
	set(p, "store.port", fmt.Sprint(port), "")
	set(p, "store.database", "resultset", "")
	set(p, "store.user", "resultset", "Credentials may change without migrating data.")
	set(p, "store.password", "changeme", "")
}

func set(p *properties.Properties, key, value, comment string) {
	p.MustSet(key, value)
	if comment != "" {
		p.SetComment(key, comment)
	}
}
