// datalayer-relay is the peer-sync relay. Peers connect over websocket at
// /ws; the HTTP API, the activity stream and the spool directory publish
// into the same broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"datalayer/internal/config"
	"datalayer/internal/domain"
	"datalayer/internal/handler"
	"datalayer/internal/hub"
	"datalayer/internal/loader"
	"datalayer/internal/reachability"
	"datalayer/internal/relay"
	"datalayer/internal/repository/sqlite"
	"datalayer/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("datalayer-relay", pflag.ContinueOnError)
	configPath := flags.String("config", "", "config file (default: $DATALAYER_CONFIG, ./datalayer.yaml, ~/.config/datalayer/config.yaml)")
	listen := flags.String("listen", "", "HTTP listen address")
	dbPath := flags.String("db", "", "SQLite database path")
	pairing := flags.String("pairing", "", "pairing file of statically paired peers")
	spool := flags.String("spool", "", "directory whose dropped files are published")
	method := flags.String("reachability", "", "how paired peers are probed: none, tcp, nmap")
	logLevel := flags.String("log-level", "", "debug, info, warn, error")
	logJSON := flags.Bool("log-json", false, "log as JSON")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if flags.Changed("listen") {
		cfg.Relay.Listen = *listen
	}
	if flags.Changed("db") {
		cfg.Relay.Storage.Path = *dbPath
	}
	if flags.Changed("pairing") {
		cfg.Relay.PairingFile = *pairing
	}
	if flags.Changed("spool") {
		cfg.Relay.Spool.Dir = *spool
	}
	if flags.Changed("reachability") {
		cfg.Relay.Reachability.Method = *method
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = *logJSON
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("starting relay", "config", path, "listen", cfg.Relay.Listen)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repoOpts []sqlite.Option
	if c := cfg.Relay.Storage.Compression; c != "" {
		repoOpts = append(repoOpts, sqlite.WithCompression(sqlite.Compression(c)))
	}
	repo, err := sqlite.New(cfg.Relay.Storage.Path, repoOpts...)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()
	logger.Info("database opened", "path", cfg.Relay.Storage.Path)

	broker := relay.NewBroker(repo, logger)
	if err := broker.Load(ctx); err != nil {
		return fmt.Errorf("load relay state: %w", err)
	}

	activity := hub.New(logger)
	go activity.Run(ctx)
	broker.OnActivity(activity.Publish)

	if file := cfg.Relay.PairingFile; file != "" {
		if err := loadPairing(ctx, broker, file); err != nil {
			return err
		}
		reload := func() {
			if err := loadPairing(ctx, broker, file); err != nil {
				logger.Warn("pairing reload failed", "file", file, "error", err)
			}
		}
		go func() {
			if err := watcher.New(file, reload, logger).Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("pairing watcher stopped", "error", err)
			}
		}()
	}

	api := handler.NewRelayHandler(broker, cfg.RecordPaths(), logger)

	if prober := newProber(ctx, cfg.Relay.Reachability, logger); prober != nil {
		monitor := reachability.NewMonitor(broker, prober, cfg.Relay.Reachability.Interval.Duration(), logger)
		monitor.Start(ctx)
		defer monitor.Stop()
		api.SetProbeTrigger(monitor)
	}

	if dir := cfg.Relay.Spool.Dir; dir != "" {
		sp := watcher.NewSpool(dir, broker, cfg.RecordPaths(), logger).
			WithDebounce(cfg.Relay.Spool.Debounce.Duration()).
			WithMessagePath(domain.Path(cfg.Paths.Message))
		go func() {
			if err := sp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("spool stopped", "error", err)
			}
		}()
	}

	// No write timeout: /ws and /api/events hold their connections open
	server := &http.Server{
		Addr:              cfg.Relay.Listen,
		Handler:           handler.Routes(api, hub.NewPeerServer(broker, logger), activity, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Relay.Listen)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func loadPairing(ctx context.Context, broker *relay.Broker, file string) error {
	peers, err := loader.LoadYAML(file)
	if err != nil {
		return fmt.Errorf("pairing file %s: %w", file, err)
	}
	if err := broker.AddStaticPeers(ctx, peers); err != nil {
		return fmt.Errorf("pairing file %s: %w", file, err)
	}
	slog.Info("paired peers loaded", "file", file, "count", len(peers))
	return nil
}

// newProber returns nil when probing is off. nmap falls back to TCP when the
// binary is missing.
func newProber(ctx context.Context, cfg config.ReachabilityConfig, logger *slog.Logger) reachability.Prober {
	tcp := func() reachability.Prober {
		p := reachability.NewTCPProber(cfg.Timeout.Duration())
		if len(cfg.Ports) > 0 {
			p.Ports = cfg.Ports
		}
		return p
	}

	switch cfg.Method {
	case config.ReachabilityNmap:
		n := reachability.NewNmapProber(logger, reachability.WithNmapTimeout(cfg.Interval.Duration()))
		if n.Available(ctx) {
			return n
		}
		logger.Warn("nmap not available, probing over TCP instead")
		return tcp()
	case config.ReachabilityTCP:
		return tcp()
	}
	return nil
}
