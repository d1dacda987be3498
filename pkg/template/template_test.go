package template

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/resultset/internal/config"
)

func TestGeneratedPropertiesParse(t *testing.T) {
	g := NewGenerator()
	for _, st := range g.GetSupportedTypes() {
		b, err := g.GenerateProperties(StoreType(st))
		if err != nil {
			t.Fatalf("%s: %v", st, err)
		}
		if !bytes.Contains(b, []byte("# Seconds a result set lives")) {
			t.Fatalf("%s: comments missing:\n%s", st, b)
		}
		p, err := config.ParsePropertiesReader(bytes.NewReader(b), "/var/lib/resultset")
		if err != nil {
			t.Fatalf("%s: parse: %v\n%s", st, err, b)
		}
		if err := p.Validate(); err != nil {
			t.Fatalf("%s: validate: %v", st, err)
		}
		if p.Store.Type != st || p.StorageRoot != "/var/lib/resultset/snapshots" || p.TTL.Seconds() != DefaultTTLSeconds {
			t.Fatalf("%s: unexpected properties %+v", st, p)
		}
	}
}

func TestGenerateUnknownType(t *testing.T) {
	if _, err := NewGenerator().Generate("oracle"); err == nil || !strings.Contains(err.Error(), "sqlite") {
		t.Fatalf("expected unknown type error listing supported types, got %v", err)
	}
}

func TestGeneratedServerConfigLoads(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "resultset.toml")
	body := NewGenerator().GenerateServerConfig(filepath.Join(dir, "registry.properties"), dir)
	if err := os.WriteFile(p, body, 0o600); err != nil {
		t.Fatal(err)
	}
	sc, err := config.LoadServerConfig(p)
	if err != nil {
		t.Fatalf("load: %v\n%s", err, body)
	}
	if sc.Registry.DataRoot != dir || !sc.Registry.Watch || sc.Upstream.URL != "" {
		t.Fatalf("unexpected server config %+v", sc)
	}
}
