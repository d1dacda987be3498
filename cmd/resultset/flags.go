package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type ServeFlags struct {
	ConfigPath string
}

type SweepFlags struct {
	ConfigPath string
	// Remote server connection
	APIUrl      string
	APITimeout  time.Duration
	APICAFile   string
	APIInsecure bool
}

type ListFlags struct {
	ConfigPath string
	// Remote server connection
	APIUrl      string
	APITimeout  time.Duration
	APICAFile   string
	APIInsecure bool
}

type CheckConfigFlags struct {
	ConfigPath string
	// Properties and DataRoot check a properties file without a server config.
	Properties string
	DataRoot   string
	// Connect opens the store and storage root instead of only parsing.
	Connect bool
}

type InitFlags struct {
	StoreType string
	Dir       string
	Force     bool
}
