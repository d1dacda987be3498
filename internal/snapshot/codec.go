package snapshot

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
)

// zstd frame magic number, little endian.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Codec turns snapshots into blob bytes and back. With Compress set the JSON
// document is wrapped in a zstd frame. Decode accepts both forms regardless of
// Compress, so flipping the setting never strands existing blobs.
type Codec struct {
	Compress bool
}

// document is the stored form. JSON cannot carry strings that are not valid
// UTF-8, so when a snapshot holds one every key and string value is stored
// base64 encoded and Binary is set.
type document struct {
	Snapshot
	Binary bool `json:"binary,omitempty"`
}

func (c Codec) Encode(s Snapshot) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	doc := document{Snapshot: s}
	if !s.validUTF8() {
		doc.Snapshot, _ = s.mapStrings(func(v string) (string, error) {
			return base64.StdEncoding.EncodeToString([]byte(v)), nil
		})
		doc.Binary = true
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if c.Compress {
		return encoder.EncodeAll(b, make([]byte, 0, len(b)/2)), nil
	}
	return b, nil
}

func (c Codec) Decode(b []byte) (Snapshot, error) {
	if bytes.HasPrefix(b, zstdMagic) {
		raw, err := decoder.DecodeAll(b, nil)
		if err != nil {
			return Snapshot{}, fmt.Errorf("decompress snapshot: %w", err)
		}
		b = raw
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if !doc.Binary {
		return doc.Snapshot, nil
	}
	s, err := doc.Snapshot.mapStrings(func(v string) (string, error) {
		d, err := base64.StdEncoding.DecodeString(v)
		return string(d), err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

func (s Snapshot) validUTF8() bool {
	ok := true
	_, _ = s.mapStrings(func(v string) (string, error) {
		ok = ok && utf8.ValidString(v)
		return v, nil
	})
	return ok
}

// mapStrings returns a copy of s with f applied to every map key and string
// value, including the body.
func (s Snapshot) mapStrings(f func(string) (string, error)) (Snapshot, error) {
	var out Snapshot
	if s.Parameters != nil {
		m, err := mapValue(s.Parameters, f)
		if err != nil {
			return Snapshot{}, err
		}
		out.Parameters = m.(map[string]any)
	}
	if s.RawParameters != nil {
		out.RawParameters = make(map[string]string, len(s.RawParameters))
		for k, v := range s.RawParameters {
			mk, err := f(k)
			if err != nil {
				return Snapshot{}, err
			}
			mv, err := f(v)
			if err != nil {
				return Snapshot{}, err
			}
			out.RawParameters[mk] = mv
		}
	}
	if s.Body != nil {
		b, err := f(*s.Body)
		if err != nil {
			return Snapshot{}, err
		}
		out.Body = &b
	}
	return out, nil
}

func mapValue(v any, f func(string) (string, error)) (any, error) {
	switch t := v.(type) {
	case string:
		return f(t)
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			m, err := mapValue(e, f)
			if err != nil {
				return nil, err
			}
			c[i] = m
		}
		return c, nil
	case map[string]any:
		c := make(map[string]any, len(t))
		for k, e := range t {
			mk, err := f(k)
			if err != nil {
				return nil, err
			}
			m, err := mapValue(e, f)
			if err != nil {
				return nil, err
			}
			c[mk] = m
		}
		return c, nil
	}
	return v, nil
}
