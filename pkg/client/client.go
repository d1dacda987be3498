package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to the query and admin routes of a resultset server.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
	// CAFile trusts an additional PEM bundle, e.g. the server's generated certificate.
	CAFile string
	// CertFile and KeyFile present a client certificate.
	CertFile   string
	KeyFile    string
	SkipVerify bool
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a client. It fails only when the TLS material cannot be loaded.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if strings.HasPrefix(config.BaseURL, "https://") {
		tlsConfig, err := clientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}, nil
}

// ErrExpired is returned for a result set id the server no longer knows.
var ErrExpired = errors.New("expired or invalid result set id")

// IsReachable checks if the server is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/admin/config", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Server unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Server reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Query runs a first query with the given parameters and returns the
// result set id that pages through it.
func (c *Client) Query(ctx context.Context, params url.Values) (QueryResponse, error) {
	var out QueryResponse
	err := c.doRequest(ctx, http.MethodGet, c.queryURL(params), "", nil, &out)
	return out, err
}

// QueryBody runs a first query whose criteria travel in the request body,
// e.g. an XML filter. params may be nil.
func (c *Client) QueryBody(ctx context.Context, params url.Values, contentType string, body []byte) (QueryResponse, error) {
	var out QueryResponse
	err := c.doRequest(ctx, http.MethodPost, c.queryURL(params), contentType, body, &out)
	return out, err
}

// Page fetches another window of a registered result set.
func (c *Client) Page(ctx context.Context, id string, w Window) (QueryResponse, error) {
	params := url.Values{}
	params.Set("resultSetID", id)
	params.Set("startIndex", strconv.Itoa(w.StartIndex))
	if w.Count > 0 {
		params.Set("count", strconv.Itoa(w.Count))
	}
	var out QueryResponse
	err := c.doRequest(ctx, http.MethodGet, c.queryURL(params), "", nil, &out)
	return out, err
}

// Sweep triggers one eviction pass on the server.
func (c *Client) Sweep(ctx context.Context) (SweepResult, error) {
	var out SweepResult
	if err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/admin/sweep", "", nil, &out); err != nil {
		return out, err
	}
	c.logger.Debug("Sweep completed", "evicted", out.Evicted, "remaining", out.Remaining)
	return out, nil
}

// Config returns the server's active configuration.
func (c *Client) Config(ctx context.Context) (ActiveConfig, error) {
	var out ActiveConfig
	err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/admin/config", "", nil, &out)
	return out, err
}

// List returns every live result set.
func (c *Client) List(ctx context.Context) ([]ResultSet, error) {
	var out resultSetList
	if err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/admin/resultsets", "", nil, &out); err != nil {
		return nil, err
	}
	return out.ResultSets, nil
}

func (c *Client) queryURL(params url.Values) string {
	if len(params) == 0 {
		return c.baseURL + "/query"
	}
	return c.baseURL + "/query?" + params.Encode()
}

func clientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: config.SkipVerify} // #nosec G402 -- opt-in

	if config.CAFile != "" {
		pem, err := os.ReadFile(config.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", config.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if config.CertFile != "" || config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// doRequest sends the request and decodes a successful response into out
// when it is non-nil.
func (c *Client) doRequest(ctx context.Context, method, url, contentType string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.errorFor(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorFor maps a non-200 response onto an error. 404 is ErrExpired.
func (c *Client) errorFor(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error (HTTP %d): %s", resp.StatusCode, errorResp.Error)
}
