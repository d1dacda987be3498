package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/resultset/internal/cron"
	"github.com/loykin/resultset/internal/logger"
)

// Defaults for the server configuration file.
const (
	DefaultListen        = ":8080"
	DefaultBasePath      = "/api"
	DefaultSweepSchedule = "@every 1m"
)

// ServerConfig is the TOML file read by the resultset command.
type ServerConfig struct {
	Server   HTTPConfig     `toml:"server" mapstructure:"server"`
	Log      logger.Config  `toml:"log" mapstructure:"log"`
	Registry RegistryConfig `toml:"registry" mapstructure:"registry"`
	Sweep    SweepConfig    `toml:"sweep" mapstructure:"sweep"`
	History  HistoryConfig  `toml:"history" mapstructure:"history"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Upstream UpstreamConfig `toml:"upstream" mapstructure:"upstream"`
}

type HTTPConfig struct {
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
}

// TLSConfig selects explicit certificate files or a directory holding
// tls.crt and tls.key, optionally generated on first start.
type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// RegistryConfig points at the properties file. Watch reloads it on change.
type RegistryConfig struct {
	Properties string `toml:"properties" mapstructure:"properties"`
	DataRoot   string `toml:"data_root" mapstructure:"data_root"`
	Watch      bool   `toml:"watch" mapstructure:"watch"`
}

// SweepConfig schedules eviction. An empty schedule disables the built-in scheduler.
type SweepConfig struct {
	Schedule string `toml:"schedule" mapstructure:"schedule"`
}

type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	Sinks   []string `toml:"sinks" mapstructure:"sinks"`
}

// UpstreamConfig names the query service that executes first and page
// queries. Without a URL the server echoes the replayed request.
type UpstreamConfig struct {
	URL         string        `toml:"url" mapstructure:"url"`
	Timeout     time.Duration `toml:"timeout" mapstructure:"timeout"`
	ContentType string        `toml:"content_type" mapstructure:"content_type"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// LoadServerConfig reads the TOML server configuration at path and applies defaults.
func LoadServerConfig(path string) (*ServerConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("sweep.schedule", DefaultSweepSchedule)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("upstream.timeout", "30s")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read server config %s: %w", path, err)
	}
	var sc ServerConfig
	if err := v.Unmarshal(&sc); err != nil {
		return nil, fmt.Errorf("decode server config %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Registry.Properties == "" {
		return fmt.Errorf("[registry] properties is required")
	}
	if sc.Sweep.Schedule != "" {
		if err := cron.Validate(sc.Sweep.Schedule); err != nil {
			return fmt.Errorf("[sweep] %w", err)
		}
	}
	if sc.History.Enabled && len(sc.History.Sinks) == 0 {
		return fmt.Errorf("[history] enabled without sinks")
	}
	if sc.Server.TLS != nil && sc.Server.TLS.Enabled &&
		(sc.Server.TLS.CertFile == "" || sc.Server.TLS.KeyFile == "") && sc.Server.TLS.Dir == "" {
		return fmt.Errorf("[server.tls] enabled requires cert_file and key_file, or dir")
	}
	if u := sc.Upstream.URL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("[upstream] url must be http or https: %q", u)
	}
	if _, err := sc.Log.SlogLevel(); err != nil {
		return fmt.Errorf("[log] %w", err)
	}
	return nil
}
