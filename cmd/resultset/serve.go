package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/resultset"
	"github.com/loykin/resultset/internal/logger"
	"github.com/loykin/resultset/internal/replay"
	rstls "github.com/loykin/resultset/internal/tls"
)

// runServe blocks until ctx is done, then shuts the server down.
func runServe(ctx context.Context, flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=resultset.toml or provide as argument")
	}

	sc, err := resultset.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	_, closer, err := logger.Setup(sc.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	if sc.Metrics.Enabled {
		if err := resultset.RegisterMetricsDefault(); err != nil {
			slog.Warn("failed to register metrics", "error", err)
		}
	}

	var sinks []resultset.HistorySink
	if sc.History.Enabled {
		for _, dsn := range sc.History.Sinks {
			sink, err := resultset.NewHistorySinkFromDSN(dsn)
			if err != nil {
				for _, s := range sinks {
					if c, ok := s.(interface{ Close() error }); ok {
						_ = c.Close()
					}
				}
				return fmt.Errorf("failed to create history sink: %w", err)
			}
			sinks = append(sinks, sink)
		}
	}

	r, err := resultset.Open(ctx, sc.Registry.Properties,
		resultset.WithDataRoot(sc.Registry.DataRoot),
		resultset.WithHistorySinks(sinks...),
	)
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer func() { _ = r.Close() }()

	if sc.Registry.Watch {
		if err := r.Watch(); err != nil {
			return fmt.Errorf("failed to watch %s: %w", sc.Registry.Properties, err)
		}
	}

	exec := resultset.EchoExecutor
	if sc.Upstream.URL != "" {
		e, err := replay.NewHTTPExecutor(sc.Upstream.URL, sc.Upstream.Timeout)
		if err != nil {
			return err
		}
		e.ContentType = sc.Upstream.ContentType
		exec = e
	}

	if sc.Sweep.Schedule != "" {
		stop, err := r.ScheduleSweeps(sc.Sweep.Schedule)
		if err != nil {
			return fmt.Errorf("failed to schedule sweeps: %w", err)
		}
		defer stop()
	}

	tlsCfg, err := rstls.SetupTLS(sc.Server)
	if err != nil {
		return fmt.Errorf("failed to set up TLS: %w", err)
	}
	srv, err := r.NewHTTPServer(sc.Server.Listen, sc.Server.BasePath, exec, sc.Metrics.Enabled, tlsCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	slog.Info("resultset server started",
		"listen", sc.Server.Listen,
		"base_path", sc.Server.BasePath,
		"tls", tlsCfg != nil,
		"upstream", sc.Upstream.URL,
	)

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
