package server

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/resultset/internal/active"
	"github.com/loykin/resultset/internal/errdefs"
	"github.com/loykin/resultset/internal/metrics"
	"github.com/loykin/resultset/internal/registry"
	"github.com/loykin/resultset/internal/replay"
	"github.com/loykin/resultset/internal/store"
	"github.com/loykin/resultset/internal/sweeper"
)

// MaxBodyBytes bounds the body of a POST query.
const MaxBodyBytes = 1 << 20

// Router provides embeddable HTTP handlers for paged queries.
// Endpoints:
//
//	GET|POST {basePath}/query              first query, or a page query when resultSetID is set
//	POST     {basePath}/admin/sweep        run one eviction pass
//	GET      {basePath}/admin/config       active configuration, credentials redacted
//	GET      {basePath}/admin/resultsets   live result set rows
//	GET      /metrics                      prometheus exposition, when enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	replayer *replay.Replayer
	registry *registry.Registry
	sweeper  *sweeper.Sweeper
	holder   *active.Holder
	metrics  bool
	basePath string
}

// Options wires the router. Admin routes are registered only for the
// components that are set.
type Options struct {
	Replayer *replay.Replayer
	Registry *registry.Registry
	Sweeper  *sweeper.Sweeper
	Holder   *active.Holder
	Metrics  bool
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/query, /abc/admin/sweep.
func NewRouter(opts Options, basePath string) *Router {
	return &Router{
		replayer: opts.Replayer,
		registry: opts.Registry,
		sweeper:  opts.Sweeper,
		holder:   opts.Holder,
		metrics:  opts.Metrics,
		basePath: sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	if r.replayer != nil {
		group.GET("/query", r.handleQuery)
		group.POST("/query", r.handleQuery)
	}
	if r.sweeper != nil {
		group.POST("/admin/sweep", r.handleSweep)
	}
	if r.holder != nil {
		group.GET("/admin/config", r.handleConfig)
	}
	if r.registry != nil {
		group.GET("/admin/resultsets", r.handleList)
	}
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. A
// non-nil tlsCfg serves HTTPS with the certificates it carries.
func NewServer(addr, basePath string, opts Options, tlsCfg *tls.Config) (*http.Server, error) {
	r := NewRouter(opts, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		var err error
		if tlsCfg != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type sweepResp struct {
	Threshold int64  `json:"threshold"`
	Evicted   int    `json:"evicted"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

type configResp struct {
	Store       store.Config `json:"store"`
	StorageRoot string       `json:"storage_root"`
	TTLSeconds  float64      `json:"ttl_seconds"`
	Compress    bool         `json:"compress"`
}

type listResp struct {
	Count      int            `json:"count"`
	ResultSets []store.Record `json:"result_sets"`
}

func (r *Router) handleQuery(c *gin.Context) {
	req, err := requestFrom(c)
	if err != nil {
		writeError(c, err)
		return
	}
	resp, err := r.replayer.Handle(c.Request.Context(), req)
	if err != nil {
		slog.Debug("query failed", "error", err)
		writeError(c, err)
		return
	}
	c.Header("X-Result-Set-ID", resp.ResultSetID)
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleSweep(c *gin.Context) {
	res := r.sweeper.Sweep(c.Request.Context())
	out := sweepResp{Threshold: res.Threshold, Evicted: res.Evicted, Remaining: res.Remaining}
	if res.Err != nil {
		out.Error = res.Err.Error()
		code, _ := statusFor(res.Err)
		writeJSON(c, code, out)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleConfig(c *gin.Context) {
	var out configResp
	err := r.holder.View(func(cfg *active.Config) error {
		out = configResp{
			Store:      cfg.StoreConfig.Redacted(),
			TTLSeconds: cfg.TTL.Seconds(),
			Compress:   cfg.Codec.Compress,
		}
		if cfg.Files != nil {
			out.StorageRoot = cfg.Files.Root()
		}
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleList(c *gin.Context) {
	recs, err := r.registry.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(c, http.StatusOK, listResp{Count: len(recs), ResultSets: recs})
}

// requestFrom captures the query string as both raw and parsed parameters.
// A POST body is merged into the parameters when it is JSON or a form, and
// kept verbatim as the request body otherwise.
func requestFrom(c *gin.Context) (replay.Request, error) {
	req := replay.Request{Parameters: map[string]any{}, RawParameters: map[string]string{}}
	mergeValues(&req, c.Request.URL.Query())
	if c.Request.Method != http.MethodPost || c.Request.Body == nil {
		return req, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		return req, fmt.Errorf("%w: read body: %v", errdefs.ErrInvalid, err)
	}
	if len(body) == 0 {
		return req, nil
	}
	switch ct := c.ContentType(); {
	case isJSON(ct):
		var params map[string]any
		if err := json.Unmarshal(body, &params); err != nil {
			return req, fmt.Errorf("%w: invalid JSON: %v", errdefs.ErrInvalid, err)
		}
		for k, v := range params {
			req.Parameters[k] = v
		}
	case ct == "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return req, fmt.Errorf("%w: invalid form: %v", errdefs.ErrInvalid, err)
		}
		mergeValues(&req, form)
	default:
		s := string(body)
		req.Body = &s
	}
	return req, nil
}

// mergeValues keeps the first value of repeated keys.
func mergeValues(req *replay.Request, vals url.Values) {
	for k, vs := range vals {
		if len(vs) == 0 {
			continue
		}
		req.RawParameters[k] = vs[0]
		req.Parameters[k] = vs[0]
	}
}
