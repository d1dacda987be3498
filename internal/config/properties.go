// Package config parses the registry properties, publishes them as the active
// configuration and migrates storage when they change.
package config

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/loykin/resultset/internal/errdefs"
	"github.com/loykin/resultset/internal/store"
)

// DataRootPlaceholder is replaced with the application data root in
// storage.root and store.database.
const DataRootPlaceholder = "${DATA_ROOT}"

// EnvPrefix prefixes environment overrides: store.host is RESULTSET_STORE_HOST.
const EnvPrefix = "RESULTSET"

// Properties is the parsed form of the registry properties file.
type Properties struct {
	TTL         time.Duration
	StorageRoot string
	Store       store.Config
	Compress    bool
}

// Validate reports the first problem that would stop p from being published.
func (p Properties) Validate() error {
	if p.TTL <= 0 {
		return errdefs.Configuration("ttl must be > 0, got %s", p.TTL)
	}
	if strings.TrimSpace(p.StorageRoot) == "" {
		return errdefs.Configuration("storage.root is required")
	}
	if strings.TrimSpace(p.Store.Type) == "" {
		return errdefs.Configuration("store.type is required")
	}
	return nil
}

// ParseProperties reads a properties file from the OS filesystem.
func ParseProperties(path, dataRoot string) (Properties, error) {
	return ParsePropertiesFs(afero.NewOsFs(), path, dataRoot)
}

// ParsePropertiesFs reads a properties file from fsys.
func ParsePropertiesFs(fsys afero.Fs, path, dataRoot string) (Properties, error) {
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		return Properties{}, errdefs.ConfigurationErr("read "+path, err)
	}
	return ParsePropertiesReader(bytes.NewReader(b), dataRoot)
}

// ParsePropertiesReader parses properties from r. Environment variables
// named RESULTSET_<KEY> (dots become underscores) override file values.
func ParsePropertiesReader(r io.Reader, dataRoot string) (Properties, error) {
	v, err := newViper()
	if err != nil {
		return Properties{}, err
	}
	if err := v.ReadConfig(r); err != nil {
		return Properties{}, errdefs.ConfigurationErr("parse properties", err)
	}

	var p Properties
	if p.TTL, err = parseTTL(v.GetString("ttl")); err != nil {
		return Properties{}, err
	}
	if p.StorageRoot, err = substitute(v.GetString("storage.root"), dataRoot); err != nil {
		return Properties{}, err
	}
	if p.Compress, err = parseBool("snapshot.compress", v.GetString("snapshot.compress")); err != nil {
		return Properties{}, err
	}

	sc := store.Config{
		Type:     strings.TrimSpace(v.GetString("store.type")),
		Host:     strings.TrimSpace(v.GetString("store.host")),
		Schema:   strings.TrimSpace(v.GetString("store.schema")),
		User:     v.GetString("store.user"),
		Password: v.GetString("store.password"),
		SSLMode:  strings.TrimSpace(v.GetString("store.sslmode")),
	}
	if sc.Database, err = substitute(v.GetString("store.database"), dataRoot); err != nil {
		return Properties{}, err
	}
	if sc.Port, err = parseInt("store.port", v.GetString("store.port")); err != nil {
		return Properties{}, err
	}
	if sc.MaxOpenConns, err = parseInt("store.max_open_conns", v.GetString("store.max_open_conns")); err != nil {
		return Properties{}, err
	}
	if sc.MaxIdleConns, err = parseInt("store.max_idle_conns", v.GetString("store.max_idle_conns")); err != nil {
		return Properties{}, err
	}
	if opts := v.GetStringMapString("store.options"); len(opts) > 0 {
		sc.Options = opts
	}
	p.Store = sc

	if err := p.Validate(); err != nil {
		return Properties{}, err
	}
	return p, nil
}

func newViper() (*viper.Viper, error) {
	reg := viper.NewCodecRegistry()
	if err := reg.RegisterCodec("properties", propertiesCodec{}); err != nil {
		return nil, err
	}
	v := viper.NewWithOptions(viper.WithCodecRegistry(reg))
	v.SetConfigType("properties")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func substitute(val, dataRoot string) (string, error) {
	val = strings.TrimSpace(val)
	if !strings.Contains(val, DataRootPlaceholder) {
		return val, nil
	}
	if dataRoot == "" {
		return "", errdefs.Configuration("%s used in %q but no data root is set", DataRootPlaceholder, val)
	}
	return strings.ReplaceAll(val, DataRootPlaceholder, strings.TrimRight(dataRoot, "/")), nil
}

// parseTTL accepts whole seconds or a Go duration.
func parseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errdefs.Configuration("ttl is required")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return 0, errdefs.Configuration("ttl must be > 0, got %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errdefs.Configuration("invalid ttl %q", s)
	}
	if d <= 0 {
		return 0, errdefs.Configuration("ttl must be > 0, got %s", d)
	}
	return d, nil
}

func parseInt(key, s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errdefs.Configuration("invalid %s %q", key, s)
	}
	return n, nil
}

func parseBool(key, s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, errdefs.Configuration("invalid %s %q", key, s)
	}
	return b, nil
}

// propertiesCodec lets viper read Java properties files. Dotted keys become
// nested maps; ${...} expansion is left to substitute.
type propertiesCodec struct{}

func (propertiesCodec) Decode(b []byte, v map[string]any) error {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadBytes(b)
	if err != nil {
		return err
	}
	for _, key := range p.Keys() {
		val, _ := p.Get(key)
		path := strings.Split(strings.ToLower(key), ".")
		m := v
		for _, k := range path[:len(path)-1] {
			next, ok := m[k].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[k] = next
			}
			m = next
		}
		m[path[len(path)-1]] = val
	}
	return nil
}

func (propertiesCodec) Encode(v map[string]any) ([]byte, error) {
	flat := map[string]string{}
	flatten("", v, flat)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	p := properties.NewProperties()
	p.DisableExpansion = true
	for _, k := range keys {
		if _, _, err := p.Set(k, flat[k]); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if _, err := p.Write(&buf, properties.UTF8); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func flatten(prefix string, v map[string]any, out map[string]string) {
	for k, val := range v {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := val.(map[string]any); ok {
			flatten(key, m, out)
			continue
		}
		out[key] = fmt.Sprint(val)
	}
}
