package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"github.com/loykin/resultset/internal/active"
	"github.com/loykin/resultset/internal/blob"
	"github.com/loykin/resultset/internal/registry"
	"github.com/loykin/resultset/internal/replay"
	"github.com/loykin/resultset/internal/snapshot"
	"github.com/loykin/resultset/internal/store"
	"github.com/loykin/resultset/internal/store/memory"
	"github.com/loykin/resultset/internal/sweeper"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	h     http.Handler
	clock *clock
	mu    sync.Mutex
	last  replay.Request
}

func (e *env) lastRequest() replay.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func setupRouter(t *testing.T, base string) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rows := memory.New(store.Config{Type: "memory"})
	files := blob.NewWithFs(afero.NewMemMapFs(), "/rs")
	if err := files.EnsureDir(); err != nil {
		t.Fatal(err)
	}
	holder := active.NewHolder()
	if err := holder.Update(func(*active.Config) (*active.Config, error) {
		return &active.Config{
			Store:       rows,
			StoreConfig: store.Config{Type: "memory", User: "app", Password: "secret"},
			Files:       files,
			TTL:         time.Second,
			Codec:       snapshot.Codec{},
		}, nil
	}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = holder.Close() })

	e := &env{clock: &clock{t: time.UnixMilli(1_700_000_000_000)}}
	reg := registry.New(holder, registry.WithClock(e.clock.Now))
	exec := replay.ExecutorFunc(func(_ context.Context, req replay.Request) (any, error) {
		e.mu.Lock()
		e.last = req
		e.mu.Unlock()
		out := map[string]any{"params": req.Parameters}
		if req.Body != nil {
			out["body"] = *req.Body
		}
		return out, nil
	})
	r := NewRouter(Options{
		Replayer: &replay.Replayer{Registry: reg, Executor: exec},
		Registry: reg,
		Sweeper:  sweeper.New(holder, sweeper.WithClock(e.clock.Now)),
		Holder:   holder,
		Metrics:  true,
	}, base)
	e.h = r.Handler()
	return e
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doRaw(t *testing.T, h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) replay.Response {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp replay.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestFirstThenPageGET(t *testing.T) {
	e := setupRouter(t, "/api")
	rec := doReq(t, e.h, http.MethodGet, "/api/query?typeName=roads&startIndex=0&count=2", nil)
	first := decodeResponse(t, rec)
	if first.ResultSetID == "" || rec.Header().Get("X-Result-Set-ID") != first.ResultSetID {
		t.Fatalf("missing result set id: %+v header=%q", first, rec.Header().Get("X-Result-Set-ID"))
	}
	if first.Window.Count != 2 {
		t.Fatalf("unexpected window %+v", first.Window)
	}

	rec = doReq(t, e.h, http.MethodGet, "/api/query?resultSetID="+first.ResultSetID+"&startIndex=2&count=2", nil)
	page := decodeResponse(t, rec)
	if page.ResultSetID != first.ResultSetID || page.Window.StartIndex != 2 {
		t.Fatalf("unexpected page response %+v", page)
	}
	got := e.lastRequest()
	if got.RawParameters["typeName"] != "roads" {
		t.Fatalf("original criteria not replayed: %+v", got.RawParameters)
	}
	if got.Parameters["startIndex"] != float64(2) || got.Parameters["count"] != float64(2) {
		t.Fatalf("window not applied: %+v", got.Parameters)
	}
	if _, ok := got.ResultSetID(); ok {
		t.Fatalf("replayed request must not carry the result set id")
	}
}

func TestPageUnknownIDIs404(t *testing.T) {
	e := setupRouter(t, "")
	for _, id := range []string{"01ARZ3NDEKTSV4RRFFQ69G5FAV", "../../etc/passwd"} {
		rec := doReq(t, e.h, http.MethodGet, "/query?resultSetID="+id, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for %q, got %d", id, rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != `{"error":"expired or invalid result set id"}` {
			t.Fatalf("unexpected body %s", rec.Body.String())
		}
	}
}

func TestInvalidWindowIs400(t *testing.T) {
	e := setupRouter(t, "/api")
	for _, q := range []string{"startIndex=abc", "count=-1", "startIndex=1.5"} {
		rec := doReq(t, e.h, http.MethodGet, "/api/query?"+q, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", q, rec.Code)
		}
	}
}

func TestPostJSONParameters(t *testing.T) {
	e := setupRouter(t, "/api")
	rec := doReq(t, e.h, http.MethodPost, "/api/query?service=WFS", map[string]any{
		"typeName": "roads", "bbox": []any{1.0, 2.0, 3.0, 4.0}, "count": 5,
	})
	first := decodeResponse(t, rec)

	rec = doReq(t, e.h, http.MethodPost, "/api/query", map[string]any{
		"resultSetID": first.ResultSetID, "startIndex": 5, "count": 5,
	})
	decodeResponse(t, rec)
	got := e.lastRequest()
	if got.Parameters["typeName"] != "roads" || got.RawParameters["service"] != "WFS" {
		t.Fatalf("criteria lost: %+v %+v", got.Parameters, got.RawParameters)
	}
	if bbox, ok := got.Parameters["bbox"].([]any); !ok || len(bbox) != 4 {
		t.Fatalf("bbox not preserved: %#v", got.Parameters["bbox"])
	}
	if got.Parameters["startIndex"] != float64(5) {
		t.Fatalf("window not applied: %+v", got.Parameters)
	}
}

func TestPostFormAndRawBody(t *testing.T) {
	e := setupRouter(t, "/api")
	rec := doRaw(t, e.h, http.MethodPost, "/api/query", "application/x-www-form-urlencoded", "typeName=rivers&count=3")
	first := decodeResponse(t, rec)
	rec = doReq(t, e.h, http.MethodGet, "/api/query?resultSetID="+first.ResultSetID+"&startIndex=3", nil)
	decodeResponse(t, rec)
	if got := e.lastRequest(); got.RawParameters["typeName"] != "rivers" || got.RawParameters["count"] != "3" {
		t.Fatalf("form criteria lost: %+v", got.RawParameters)
	}

	xml := `<GetFeature><Query typeName="lakes"/></GetFeature>`
	rec = doRaw(t, e.h, http.MethodPost, "/api/query?count=10", "text/xml", xml)
	first = decodeResponse(t, rec)
	rec = doReq(t, e.h, http.MethodGet, "/api/query?resultSetID="+first.ResultSetID+"&startIndex=10&count=10", nil)
	decodeResponse(t, rec)
	got := e.lastRequest()
	if got.Body == nil || *got.Body != xml {
		t.Fatalf("body not replayed: %v", got.Body)
	}
}

func TestLatin1BodyReplaysUnchanged(t *testing.T) {
	e := setupRouter(t, "/api")
	xml := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><q>caf\xe9</q>"
	rec := doRaw(t, e.h, http.MethodPost, "/api/query?name=caf%E9", "text/xml", xml)
	first := decodeResponse(t, rec)
	rec = doReq(t, e.h, http.MethodGet, "/api/query?resultSetID="+first.ResultSetID+"&startIndex=1", nil)
	decodeResponse(t, rec)
	got := e.lastRequest()
	if got.Body == nil || *got.Body != xml || got.RawParameters["name"] != "caf\xe9" {
		t.Fatalf("request bytes changed: body=%v name=%q", got.Body, got.RawParameters["name"])
	}
}

func TestBadJSONIs400(t *testing.T) {
	e := setupRouter(t, "")
	rec := doRaw(t, e.h, http.MethodPost, "/query", "application/json", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	e := setupRouter(t, "/api")
	first := decodeResponse(t, doReq(t, e.h, http.MethodGet, "/api/query?typeName=roads", nil))
	e.clock.Advance(2 * time.Second)

	rec := doReq(t, e.h, http.MethodPost, "/api/admin/sweep", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out sweepResp
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Evicted != 1 || out.Remaining != 0 {
		t.Fatalf("unexpected sweep result %+v", out)
	}
	rec = doReq(t, e.h, http.MethodGet, "/api/query?resultSetID="+first.ResultSetID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after sweep, got %d", rec.Code)
	}
}

func TestAdminConfigRedacted(t *testing.T) {
	e := setupRouter(t, "/api")
	rec := doReq(t, e.h, http.MethodGet, "/api/admin/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("password leaked: %s", rec.Body.String())
	}
	var out configResp
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.StorageRoot != "/rs" || out.TTLSeconds != 1 || out.Store.User != "app" {
		t.Fatalf("unexpected config %+v", out)
	}
}

func TestAdminList(t *testing.T) {
	e := setupRouter(t, "/api")
	for i := 0; i < 3; i++ {
		decodeResponse(t, doReq(t, e.h, http.MethodGet, "/api/query?n=1", nil))
	}
	rec := doReq(t, e.h, http.MethodGet, "/api/admin/resultsets", nil)
	var out listResp
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Count != 3 || len(out.ResultSets) != 3 {
		t.Fatalf("unexpected list %+v", out)
	}
}

func TestMetricsRoute(t *testing.T) {
	e := setupRouter(t, "/api")
	rec := doReq(t, e.h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestNotConfiguredIs503(t *testing.T) {
	gin.SetMode(gin.TestMode)
	holder := active.NewHolder()
	reg := registry.New(holder)
	h := NewRouter(Options{
		Replayer: &replay.Replayer{Registry: reg},
		Holder:   holder,
	}, "").Handler()
	if rec := doReq(t, h, http.MethodGet, "/query?a=1", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/admin/config", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/admin/sweep", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("sweep route must be absent without a sweeper, got %d", rec.Code)
	}
}
