package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxUpstreamBytes bounds the upstream response read by HTTPExecutor.
const MaxUpstreamBytes = 32 << 20

// HTTPExecutor forwards a request to an upstream query service. Parameters
// travel in the query string; a request with a body is sent as a POST.
// JSON responses are passed through verbatim, anything else as a string.
type HTTPExecutor struct {
	URL         string
	Client      *http.Client
	ContentType string // of forwarded bodies; defaults to application/xml
}

// NewHTTPExecutor returns an executor for upstream with the given timeout.
func NewHTTPExecutor(upstream string, timeout time.Duration) (*HTTPExecutor, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q: scheme must be http or https", upstream)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{URL: upstream, Client: &http.Client{Timeout: timeout}}, nil
}

func (e *HTTPExecutor) Execute(ctx context.Context, req Request) (any, error) {
	target, err := e.target(req)
	if err != nil {
		return nil, err
	}
	method := http.MethodGet
	var body io.Reader
	if req.Body != nil {
		method = http.MethodPost
		body = strings.NewReader(*req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	if req.Body != nil {
		ct := e.ContentType
		if ct == "" {
			ct = "application/xml"
		}
		hreq.Header.Set("Content-Type", ct)
	}
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxUpstreamBytes))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "application/json" || strings.HasSuffix(mt, "+json") {
		if json.Valid(data) {
			return json.RawMessage(data), nil
		}
	}
	return string(data), nil
}

// target merges the raw parameters into the upstream query. Parsed-only
// parameters, such as those from a JSON body, are added as strings or JSON.
func (e *HTTPExecutor) target(req Request) (string, error) {
	u, err := url.Parse(e.URL)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	q := u.Query()
	for k, v := range req.RawParameters {
		q.Set(k, v)
	}
	for k, v := range req.Parameters {
		if _, ok := findFold(req.RawParameters, k); ok {
			continue
		}
		switch t := v.(type) {
		case []any, map[string]any:
			b, err := json.Marshal(t)
			if err != nil {
				return "", fmt.Errorf("encode parameter %s: %w", k, err)
			}
			q.Set(k, string(b))
		default:
			q.Set(k, rawString(v))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Echo answers with the request it receives, which lets the service run
// without an upstream.
var Echo = ExecutorFunc(func(_ context.Context, req Request) (any, error) {
	out := map[string]any{
		"parameters":    req.Parameters,
		"rawParameters": req.RawParameters,
	}
	if req.Body != nil {
		out["body"] = *req.Body
	}
	return out, nil
})
