package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/resultset"
	"github.com/loykin/resultset/pkg/client"
	"github.com/loykin/resultset/pkg/template"
)

type command struct {
	out io.Writer
}

func newCommand() command { return command{out: os.Stdout} }

type recordView struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

type sweepView struct {
	Threshold time.Time `json:"threshold"`
	Evicted   int       `json:"evicted"`
	Remaining int       `json:"remaining"`
}

func newAPIClient(apiURL string, timeout time.Duration, caFile string, insecure bool) (*client.Client, error) {
	cfg := client.DefaultConfig()
	cfg.BaseURL = apiURL
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	cfg.CAFile = caFile
	cfg.SkipVerify = insecure
	return client.New(cfg)
}

// openLocal opens the registry described by the server config at path.
func openLocal(ctx context.Context, path string) (*resultset.Registry, error) {
	if path == "" {
		return nil, errors.New("config file required. Use --config=resultset.toml")
	}
	sc, err := resultset.LoadServerConfig(path)
	if err != nil {
		return nil, err
	}
	return resultset.Open(ctx, sc.Registry.Properties, resultset.WithDataRoot(sc.Registry.DataRoot))
}

// Sweep runs one eviction pass, on the server when APIUrl is set.
func (c *command) Sweep(f SweepFlags) error {
	ctx := context.Background()
	if f.APIUrl != "" {
		api, err := newAPIClient(f.APIUrl, f.APITimeout, f.APICAFile, f.APIInsecure)
		if err != nil {
			return err
		}
		res, err := api.Sweep(ctx)
		if err != nil {
			return err
		}
		printJSON(c.out, sweepView{Threshold: time.UnixMilli(res.Threshold).UTC(), Evicted: res.Evicted, Remaining: res.Remaining})
		return nil
	}
	r, err := openLocal(ctx, f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	res := r.Sweep(ctx)
	if res.Err != nil {
		return res.Err
	}
	printJSON(c.out, sweepView{Threshold: time.UnixMilli(res.Threshold).UTC(), Evicted: res.Evicted, Remaining: res.Remaining})
	return nil
}

// List prints every live result set, oldest first.
func (c *command) List(f ListFlags) error {
	ctx := context.Background()
	var views []recordView
	if f.APIUrl != "" {
		api, err := newAPIClient(f.APIUrl, f.APITimeout, f.APICAFile, f.APIInsecure)
		if err != nil {
			return err
		}
		recs, err := api.List(ctx)
		if err != nil {
			return err
		}
		for _, r := range recs {
			views = append(views, recordView{ID: r.ID, Created: time.UnixMilli(r.Created).UTC(), Updated: time.UnixMilli(r.Updated).UTC()})
		}
	} else {
		r, err := openLocal(ctx, f.ConfigPath)
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()
		recs, err := r.List(ctx)
		if err != nil {
			return err
		}
		for _, r := range recs {
			views = append(views, recordView{ID: r.ID, Created: time.UnixMilli(r.Created).UTC(), Updated: time.UnixMilli(r.Updated).UTC()})
		}
	}
	if views == nil {
		views = []recordView{}
	}
	printJSON(c.out, views)
	return nil
}

// CheckConfig parses the server config and its properties file and prints
// the result with credentials redacted.
func (c *command) CheckConfig(f CheckConfigFlags) error {
	propsPath, dataRoot := f.Properties, f.DataRoot
	if propsPath == "" {
		if f.ConfigPath == "" {
			return errors.New("either --config or --properties is required")
		}
		sc, err := resultset.LoadServerConfig(f.ConfigPath)
		if err != nil {
			return err
		}
		propsPath = sc.Registry.Properties
		if dataRoot == "" {
			dataRoot = sc.Registry.DataRoot
		}
	}
	p, err := resultset.ParseProperties(propsPath, dataRoot)
	if err != nil {
		return err
	}
	if f.Connect {
		r, err := resultset.Open(context.Background(), propsPath, resultset.WithDataRoot(dataRoot))
		if err != nil {
			return err
		}
		_ = r.Close()
	}
	printJSON(c.out, map[string]any{
		"properties":   propsPath,
		"ttl":          p.TTL.String(),
		"storage_root": p.StorageRoot,
		"compress":     p.Compress,
		"store":        p.Store.Redacted(),
		"connected":    f.Connect,
	})
	return nil
}

// Init writes a properties file and a server config into f.Dir.
func (c *command) Init(f InitFlags) error {
	dir := f.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	propsPath := filepath.Join(abs, "registry.properties")
	serverPath := filepath.Join(abs, "resultset.toml")
	for _, p := range []string{propsPath, serverPath} {
		if _, err := os.Stat(p); err == nil && !f.Force {
			return fmt.Errorf("file '%s' already exists (use --force to overwrite)", p)
		}
	}

	generator := template.NewGenerator()
	props, err := generator.GenerateProperties(template.StoreType(f.StoreType))
	if err != nil {
		return fmt.Errorf("failed to generate properties: %w", err)
	}
	if err := os.WriteFile(propsPath, props, 0o600); err != nil {
		return fmt.Errorf("failed to write properties: %w", err)
	}
	if err := os.WriteFile(serverPath, generator.GenerateServerConfig(propsPath, filepath.Join(abs, "data")), 0o600); err != nil {
		return fmt.Errorf("failed to write server config: %w", err)
	}

	_, _ = fmt.Fprintf(c.out, "Created %s and %s\n", propsPath, serverPath)
	_, _ = fmt.Fprintf(c.out, "Start the server with: resultset serve --config=%s\n", serverPath)
	return nil
}
