package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/resultset/internal/history"
)

// Sink indexes events into OpenSearch. Each event is stored under DocID, so a
// retried send overwrites instead of duplicating.
type Sink struct {
	client   *http.Client
	baseURL  string
	index    string
	user     string
	password string
}

type Option func(*Sink)

func WithBasicAuth(user, password string) Option {
	return func(s *Sink) { s.user, s.password = user, password }
}

func WithClient(c *http.Client) Option { return func(s *Sink) { s.client = c } }

func New(baseURL, index string, opts ...Option) *Sink {
	s := &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DocID is the document id an event is indexed under. Events without a
// record, such as migrations, are keyed by their time instead.
func DocID(e history.Event) string {
	if e.Record.ID == "" {
		return string(e.Type) + "-" + strconv.FormatInt(e.OccurredAt.UnixNano(), 10)
	}
	return e.Record.ID + "-" + string(e.Type)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	u := s.baseURL + "/" + url.PathEscape(s.index) + "/_doc/" + url.PathEscape(DocID(e))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
