// Package hubapp wires the hub runtime: config, logging, the HTTP listener
// the websocket endpoint hangs off, metrics, and graceful shutdown.
package hubapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"starhub/internal/hub"
	"starhub/internal/hubmetrics"
)

// App is the hub server runtime. It owns the Hub instance and the HTTP
// server wiring around it.
type App struct {
	cfg Config
	log Logger

	hub     *hub.Hub
	metrics *hubmetrics.Metrics
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger) *App {
	var opts []hub.Option
	var metrics *hubmetrics.Metrics
	if cfg.MetricsEnabled {
		metrics = hubmetrics.New()
		opts = append(opts, hub.WithMetrics(metrics))
	}

	return &App{
		cfg:     cfg,
		log:     log,
		hub:     hub.New(cfg.HubConfig(), log, opts...),
		metrics: metrics,
	}
}

// Hub exposes the underlying hub, mainly for tests.
func (a *App) Hub() *hub.Hub { return a.hub }

// Run binds the listener, starts the hub's background loops, and blocks
// until ctx is cancelled or the server fails. A bind failure is returned
// immediately so main can exit 1.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("hubapp: bind %s: %w", a.cfg.ListenAddr(), err)
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.hub.Start(ctx)
	if a.cfg.MetricsFile != "" {
		go a.runStatsExport(ctx)
	}

	a.log.Info("hub.start",
		"addr", a.cfg.ListenAddr(),
		"max_connections", a.cfg.MaxConnections,
		"metrics_enabled", a.cfg.MetricsEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("hub.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("hub.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.WSCloseTimeout)
	defer cancel()

	if err := a.hub.Shutdown(shutdownCtx); err != nil {
		a.log.Error("hub.shutdown.fail", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("hub.stopped")
	return nil
}

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/statz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.statsSnapshot())
	})

	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}

	mux.Handle("/ws", a.hub)
}

type statsSnapshot struct {
	Total        int `json:"total_connections"`
	Agents       int `json:"agents"`
	Environments int `json:"environments"`
	Humans       int `json:"humans"`
	EnvCount     int `json:"env_count"`
}

func (a *App) statsSnapshot() statsSnapshot {
	s := a.hub.Registry().Stats()
	return statsSnapshot{
		Total:        s.Total,
		Agents:       s.Agents,
		Environments: s.Environments,
		Humans:       s.Humans,
		EnvCount:     s.EnvCount,
	}
}

// runStatsExport appends a registry-stats snapshot to the configured metrics
// file once per export interval, one JSON object per line.
func (a *App) runStatsExport(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.MetricsExportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.exportStats(); err != nil {
				a.log.Warn("hub.stats_export.fail", "err", err)
			}
		}
	}
}

func (a *App) exportStats() error {
	f, err := os.OpenFile(a.cfg.MetricsFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line := struct {
		TS time.Time `json:"ts"`
		statsSnapshot
	}{time.Now().UTC(), a.statsSnapshot()}
	return json.NewEncoder(f).Encode(line)
}
