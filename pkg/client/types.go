package client

import "encoding/json"

// Window selects a page of a result set.
type Window struct {
	StartIndex int `json:"startIndex"`
	Count      int `json:"count,omitempty"`
}

// QueryResponse is the answer to a first or page query. Data holds the
// upstream result verbatim.
type QueryResponse struct {
	ResultSetID string          `json:"resultSetID"`
	Window      Window          `json:"window"`
	Data        json.RawMessage `json:"data"`
}

// SweepResult reports one eviction pass triggered through the admin API.
type SweepResult struct {
	Threshold int64  `json:"threshold"`
	Evicted   int    `json:"evicted"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

// StoreConfig is the redacted backing store configuration.
type StoreConfig struct {
	Type     string `json:"type"`
	Database string `json:"database,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Schema   string `json:"schema,omitempty"`
	User     string `json:"user,omitempty"`
}

// ActiveConfig is the configuration the server is running with.
type ActiveConfig struct {
	Store       StoreConfig `json:"store"`
	StorageRoot string      `json:"storage_root"`
	TTLSeconds  float64     `json:"ttl_seconds"`
	Compress    bool        `json:"compress"`
}

// ResultSet is one registry row. Timestamps are unix milliseconds.
type ResultSet struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
}

type resultSetList struct {
	Count      int         `json:"count"`
	ResultSets []ResultSet `json:"result_sets"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
