// Package resultset keeps paged query requests replayable. A first query is
// captured under a fresh result set id; later page queries carry only that id
// and a new window, and the original request is rebuilt and executed again.
// Ids that go unused for longer than the configured TTL are evicted by Sweep.
package resultset

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/resultset/internal/active"
	cfg "github.com/loykin/resultset/internal/config"
	"github.com/loykin/resultset/internal/cron"
	"github.com/loykin/resultset/internal/errdefs"
	"github.com/loykin/resultset/internal/history"
	hfactory "github.com/loykin/resultset/internal/history/factory"
	"github.com/loykin/resultset/internal/metrics"
	"github.com/loykin/resultset/internal/registry"
	"github.com/loykin/resultset/internal/replay"
	iapi "github.com/loykin/resultset/internal/server"
	"github.com/loykin/resultset/internal/snapshot"
	"github.com/loykin/resultset/internal/store"
	"github.com/loykin/resultset/internal/sweeper"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Snapshot = snapshot.Snapshot

type Request = replay.Request

type Window = replay.Window

type Response = replay.Response

type Executor = replay.Executor

type ExecutorFunc = replay.ExecutorFunc

type Properties = cfg.Properties

type StoreConfig = store.Config

type Record = store.Record

type SweepResult = sweeper.Result

type HistorySink = history.Sink

type ServerConfig = cfg.ServerConfig

// Error kinds, matched with errors.Is.
var (
	ErrConfiguration = errdefs.ErrConfiguration
	ErrNotFound      = errdefs.ErrNotFound
	ErrStore         = errdefs.ErrStore
	ErrEviction      = errdefs.ErrEviction
	ErrInvalid       = errdefs.ErrInvalid
	ErrNotConfigured = errdefs.ErrNotConfigured
)

// Registry is a thin facade over the configuration store, the registry and
// the sweeper, all sharing one active configuration.
type Registry struct {
	conf  *cfg.Store
	reg   *registry.Registry
	sw    *sweeper.Sweeper
	sinks history.Sinks
}

type options struct {
	dataRoot string
	sinks    history.Sinks
}

type Option func(*options)

// WithDataRoot sets the directory substituted for ${DATA_ROOT}.
func WithDataRoot(dir string) Option { return func(o *options) { o.dataRoot = dir } }

// WithHistorySinks exports lifecycle events to sinks. The registry closes them.
func WithHistorySinks(sinks ...HistorySink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

func newRegistry(path string, opts []Option) *Registry {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	holder := active.NewHolder()
	return &Registry{
		conf:  cfg.New(holder, path, o.dataRoot, cfg.WithSinks(o.sinks)),
		reg:   registry.New(holder, registry.WithSinks(o.sinks)),
		sw:    sweeper.New(holder, sweeper.WithSinks(o.sinks)),
		sinks: o.sinks,
	}
}

// Open loads the properties file at path and returns a ready registry.
func Open(ctx context.Context, path string, opts ...Option) (*Registry, error) {
	r := newRegistry(path, opts)
	if err := r.conf.Load(ctx); err != nil {
		r.sinks.Close()
		return nil, err
	}
	return r, nil
}

// OpenProperties configures a registry from p without a properties file.
func OpenProperties(ctx context.Context, p Properties, opts ...Option) (*Registry, error) {
	r := newRegistry("", opts)
	if err := r.conf.Reconfigure(ctx, p); err != nil {
		r.sinks.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) Create(ctx context.Context, s Snapshot) (string, error) {
	return r.reg.Create(ctx, s)
}
func (r *Registry) Touch(ctx context.Context, id string) error { return r.reg.Touch(ctx, id) }
func (r *Registry) Load(ctx context.Context, id string) (Snapshot, error) {
	return r.reg.Load(ctx, id)
}
func (r *Registry) Lookup(ctx context.Context, id string) (Snapshot, error) {
	return r.reg.Lookup(ctx, id)
}
func (r *Registry) List(ctx context.Context) ([]Record, error) { return r.reg.List(ctx) }
func (r *Registry) Sweep(ctx context.Context) SweepResult      { return r.sw.Sweep(ctx) }

// Reconfigure applies p, migrating rows when the store identity changes.
func (r *Registry) Reconfigure(ctx context.Context, p Properties) error {
	return r.conf.Reconfigure(ctx, p)
}

// Reload re-reads the properties file given to Open.
func (r *Registry) Reload(ctx context.Context) error { return r.conf.ReloadFile(ctx) }

// Watch reloads the properties file whenever it changes on disk.
func (r *Registry) Watch() error { return r.conf.Watch() }

// Current returns the active properties' store config with credentials redacted.
func (r *Registry) Current() (StoreConfig, bool) {
	c := r.conf.Holder().Current()
	if c == nil {
		return StoreConfig{}, false
	}
	return c.StoreConfig.Redacted(), true
}

// Replayer returns a replayer that executes queries with exec.
func (r *Registry) Replayer(exec Executor) *replay.Replayer {
	return &replay.Replayer{Registry: r.reg, Executor: exec}
}

// Handler returns the HTTP surface rooted at basePath: the query route, the
// admin routes and, with withMetrics, /metrics.
func (r *Registry) Handler(basePath string, exec Executor, withMetrics bool) http.Handler {
	return iapi.NewRouter(r.routerOptions(exec, withMetrics), basePath).Handler()
}

// NewHTTPServer starts a server exposing Handler on addr. A non-nil tlsCfg
// serves HTTPS.
func (r *Registry) NewHTTPServer(addr, basePath string, exec Executor, withMetrics bool, tlsCfg *tls.Config) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, r.routerOptions(exec, withMetrics), tlsCfg)
}

func (r *Registry) routerOptions(exec Executor, withMetrics bool) iapi.Options {
	return iapi.Options{
		Replayer: r.Replayer(exec),
		Registry: r.reg,
		Sweeper:  r.sw,
		Holder:   r.conf.Holder(),
		Metrics:  withMetrics,
	}
}

// ScheduleSweeps runs Sweep on a cron schedule such as "@every 1m" or
// "*/5 * * * *". The returned function stops the schedule.
func (r *Registry) ScheduleSweeps(schedule string) (stop func(), err error) {
	s := cron.NewScheduler()
	if err := s.Add(cron.Job{Name: "sweep", Schedule: schedule, Run: func(ctx context.Context) {
		r.sw.Sweep(ctx)
	}}); err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s.Stop, nil
}

// Close stops watching, releases the store and closes history sinks.
func (r *Registry) Close() error {
	err := r.conf.Close()
	r.sinks.Close()
	return err
}

// NewHTTPExecutor forwards queries to an upstream HTTP query service. A zero
// timeout means 30s.
func NewHTTPExecutor(upstream string, timeout time.Duration) (Executor, error) {
	e, err := replay.NewHTTPExecutor(upstream, timeout)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// EchoExecutor answers every query with the request it was given.
var EchoExecutor Executor = replay.Echo

func LoadServerConfig(path string) (*ServerConfig, error) { return cfg.LoadServerConfig(path) }

func ParseProperties(path, dataRoot string) (Properties, error) {
	return cfg.ParseProperties(path, dataRoot)
}

// NewHistorySinkFromDSN builds a sink from a clickhouse://, opensearch://,
// postgres:// or sqlite DSN.
func NewHistorySinkFromDSN(dsn string) (HistorySink, error) { return hfactory.NewSinkFromDSN(dsn) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
