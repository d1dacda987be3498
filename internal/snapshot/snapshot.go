// Package snapshot defines the captured form of an original query request and
// its on-disk encoding.
package snapshot

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Extension is the file suffix of stored snapshots.
const Extension = "snapshot"

// FileName returns the blob key for id.
func FileName(id string) string { return id + "." + Extension }

// Snapshot is everything needed to replay a query: its parsed parameters, the raw
// key/value pairs as received, and the request body when there was one.
type Snapshot struct {
	Parameters    map[string]any    `json:"parameters"`
	RawParameters map[string]string `json:"raw"`
	Body          *string           `json:"body,omitempty"`
}

// Validate checks that every parameter value is JSON-native (string, float64,
// bool, nil, []any, map[string]any) so that decoding yields an equal snapshot.
func (s Snapshot) Validate() error {
	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := validValue(s.Parameters[k]); err != nil {
			return fmt.Errorf("parameter %q: %w", k, err)
		}
	}
	return nil
}

func validValue(v any) error {
	switch t := v.(type) {
	case nil, string, bool:
		return nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("non-finite number %v", t)
		}
		return nil
	case []any:
		for i, e := range t {
			if err := validValue(e); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case map[string]any:
		for k, e := range t {
			if err := validValue(e); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported value type %T", v)
}

// Equal reports whether a and b describe the same request.
func Equal(a, b Snapshot) bool {
	if (a.Body == nil) != (b.Body == nil) {
		return false
	}
	if a.Body != nil && *a.Body != *b.Body {
		return false
	}
	if len(a.RawParameters) != len(b.RawParameters) || len(a.Parameters) != len(b.Parameters) {
		return false
	}
	for k, v := range a.RawParameters {
		if w, ok := b.RawParameters[k]; !ok || w != v {
			return false
		}
	}
	for k, v := range a.Parameters {
		w, ok := b.Parameters[k]
		if !ok || !reflect.DeepEqual(v, w) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{}
	if s.Parameters != nil {
		out.Parameters = make(map[string]any, len(s.Parameters))
		for k, v := range s.Parameters {
			out.Parameters[k] = cloneValue(v)
		}
	}
	if s.RawParameters != nil {
		out.RawParameters = make(map[string]string, len(s.RawParameters))
		for k, v := range s.RawParameters {
			out.RawParameters[k] = v
		}
	}
	if s.Body != nil {
		b := *s.Body
		out.Body = &b
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	case map[string]any:
		c := make(map[string]any, len(t))
		for k, e := range t {
			c[k] = cloneValue(e)
		}
		return c
	}
	return v
}
