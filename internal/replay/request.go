// Package replay turns query requests into snapshots and back. A first query
// is captured and registered; a page query is rebuilt from its snapshot with
// the new window applied and handed to the executor again.
package replay

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/loykin/resultset/internal/errdefs"
	"github.com/loykin/resultset/internal/snapshot"
)

// Parameter names, matched case-insensitively.
const (
	KeyResultSetID = "resultSetID"
	KeyStartIndex  = "startIndex"
	KeyCount       = "count"
)

// Window selects a page. Count 0 leaves the page size to the executor.
type Window struct {
	StartIndex int `json:"startIndex"`
	Count      int `json:"count,omitempty"`
}

// Request is a query as received: parsed parameters, the raw key/value pairs
// and the optional body.
type Request struct {
	Parameters    map[string]any
	RawParameters map[string]string
	Body          *string
}

// FromSnapshot rebuilds the request captured in s.
func FromSnapshot(s snapshot.Snapshot) Request {
	c := s.Clone()
	return Request{Parameters: c.Parameters, RawParameters: c.RawParameters, Body: c.Body}
}

// Capture returns the snapshot of r without the result set id and start
// index. A page size is kept and applies to pages that do not set their own.
func Capture(r Request) snapshot.Snapshot {
	s := snapshot.Snapshot{Parameters: r.Parameters, RawParameters: r.RawParameters, Body: r.Body}.Clone()
	for _, k := range []string{KeyResultSetID, KeyStartIndex} {
		deleteFold(s.Parameters, k)
		deleteFold(s.RawParameters, k)
	}
	return s
}

// SetParameter sets key in both parameter maps, replacing any entry whose
// name differs only in case. The raw entry keeps the received spelling.
func (r *Request) SetParameter(key string, value any) {
	if r.Parameters == nil {
		r.Parameters = map[string]any{}
	}
	if r.RawParameters == nil {
		r.RawParameters = map[string]string{}
	}
	pk := foldKey(r.Parameters, key)
	r.Parameters[pk] = value
	rk := foldKey(r.RawParameters, key)
	r.RawParameters[rk] = rawString(value)
}

// DeleteParameter removes key from both maps.
func (r *Request) DeleteParameter(key string) {
	deleteFold(r.Parameters, key)
	deleteFold(r.RawParameters, key)
}

// SetWindow applies w. A zero Count keeps the page size already in r.
func (r *Request) SetWindow(w Window) {
	r.SetParameter(KeyStartIndex, float64(w.StartIndex))
	if w.Count > 0 {
		r.SetParameter(KeyCount, float64(w.Count))
	}
}

// ResultSetID returns the result set id carried by r, if any.
func (r Request) ResultSetID() (string, bool) {
	v, ok := r.lookup(KeyResultSetID)
	if !ok {
		return "", false
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	return s, s != ""
}

// Window reads the window parameters. Missing values are zero; malformed or
// negative ones are ErrInvalid.
func (r Request) Window() (Window, error) {
	var w Window
	var err error
	if w.StartIndex, err = r.intParam(KeyStartIndex); err != nil {
		return Window{}, err
	}
	if w.Count, err = r.intParam(KeyCount); err != nil {
		return Window{}, err
	}
	return w, nil
}

func (r Request) lookup(key string) (any, bool) {
	if k, ok := findFold(r.Parameters, key); ok {
		return r.Parameters[k], true
	}
	if k, ok := findFold(r.RawParameters, key); ok {
		return r.RawParameters[k], true
	}
	return nil, false
}

func (r Request) intParam(key string) (int, error) {
	v, ok := r.lookup(key)
	if !ok || v == nil {
		return 0, nil
	}
	var n int
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || t > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", errdefs.ErrInvalid, key, t)
		}
		n = int(t)
	case string:
		if strings.TrimSpace(t) == "" {
			return 0, nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer, got %q", errdefs.ErrInvalid, key, t)
		}
		n = i
	default:
		return 0, fmt.Errorf("%w: %s must be an integer, got %T", errdefs.ErrInvalid, key, v)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s must be >= 0, got %d", errdefs.ErrInvalid, key, n)
	}
	return n, nil
}

func rawString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

func findFold[V any](m map[string]V, key string) (string, bool) {
	if _, ok := m[key]; ok {
		return key, true
	}
	for k := range m {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return "", false
}

func foldKey[V any](m map[string]V, key string) string {
	if k, ok := findFold(m, key); ok {
		return k
	}
	return key
}

func deleteFold[V any](m map[string]V, key string) {
	for k := range m {
		if strings.EqualFold(k, key) {
			delete(m, k)
		}
	}
}
