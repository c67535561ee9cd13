package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forkit/firewall/internal/adaptive"
	"github.com/forkit/firewall/internal/background"
	"github.com/forkit/firewall/internal/blacklist"
	"github.com/forkit/firewall/internal/config"
	"github.com/forkit/firewall/internal/control"
	"github.com/forkit/firewall/internal/escalation"
	"github.com/forkit/firewall/internal/pipeline"
	"github.com/forkit/firewall/internal/policy"
	"github.com/forkit/firewall/internal/ratelimit"
	"github.com/forkit/firewall/internal/storage"
	"github.com/forkit/firewall/internal/strike"
	"github.com/forkit/firewall/internal/telemetry"
)

// sweepInterval is how often the rate-limit and strike maps are swept for
// idle entries (spec.md §9: bounded memory under adversarial key
// cardinality).
const sweepInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "configs/firewall.yaml", "path to config file")
	backendAddr := flag.String("backend", "http://localhost:8081", "application server this firewall fronts")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting firewall", "listen", cfg.Listen, "storage_dsn", cfg.Storage.DSN)

	policyTable, err := cfg.PolicyTable()
	if err != nil {
		slog.Error("policy table validation failed", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewBlockStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to initialize security database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var tp *telemetry.Provider
	if cfg.Telemetry.Enabled {
		tp, err = telemetry.NewProvider(telemetry.Config{
			Enabled:  cfg.Telemetry.Enabled,
			Exporter: cfg.Telemetry.Exporter,
			Endpoint: cfg.Telemetry.Endpoint,
			Insecure: cfg.Telemetry.Insecure,
		})
		if err != nil {
			slog.Warn("telemetry initialization failed, continuing without tracing", "error", err)
			tp = nil
		}
	}
	if tp == nil {
		tp = telemetry.NoopProvider()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "error", err)
		}
	}()

	var broadcaster *blacklist.Broadcaster
	if cfg.Broadcast.Addr != "" {
		broadcaster, err = blacklist.NewBroadcaster(cfg.Broadcast.Addr, cfg.Broadcast.Password, cfg.Broadcast.DB, cfg.Broadcast.Topic)
		if err != nil {
			slog.Warn("redis broadcaster unavailable, blocks stay process-local", "error", err)
			broadcaster = nil
		} else {
			slog.Info("blacklist broadcaster connected", "addr", cfg.Broadcast.Addr, "topic", cfg.Broadcast.Topic)
		}
	}
	defer broadcaster.Close()

	cache := blacklist.NewCache(blacklist.DefaultCacheSize, blacklist.DefaultIdleTTL)
	scheduler := background.New(4, 256)
	writer := blacklist.NewWriter(cache, store, scheduler, broadcaster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// preload_cache must run before the firewall accepts traffic; failure
	// here is fatal (spec.md §7).
	if err := writer.PreloadCache(ctx); err != nil {
		slog.Error("failed to preload blacklist cache", "error", err)
		os.Exit(1)
	}

	if broadcaster != nil {
		go broadcaster.Listen(ctx, cache)
	}

	limiter := ratelimit.New()
	strikes := strike.New()
	coordinator := escalation.New(strikes, writer)

	largestWindow := time.Minute
	for _, def := range policyTable {
		if def.Window > largestWindow {
			largestWindow = def.Window
		}
	}
	go sweepLoop(ctx, limiter, strikes, largestWindow)

	pipe := &pipeline.Pipeline{
		Exemptions:        pipeline.NewExemptions(cfg.Exemptions.ExactPaths, cfg.Exemptions.Prefixes),
		Policies:          policyTable,
		PolicyCache:       policy.NewCache(policy.DefaultCacheCapacity),
		Limiter:           limiter,
		Strikes:           strikes,
		Blacklist:         cache,
		Writer:            writer,
		Escalation:        coordinator,
		Observer:          adaptive.Noop{},
		FingerprintHeader: cfg.Fingerprint.Header,
		Telemetry:         tp,
	}

	backend, err := newReverseProxy(*backendAddr)
	if err != nil {
		slog.Error("failed to configure backend", "error", err)
		os.Exit(1)
	}

	firewallServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      pipe.Wrap(backend),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var controlServer *http.Server
	if cfg.Control.Enabled {
		controlHandler := control.NewWithAuth(cache, limiter, strikes, pipe.PolicyCache, cfg.Control.Auth.Enabled, cfg.Control.Auth.APIKey)
		controlServer = &http.Server{
			Addr:         cfg.Control.Listen,
			Handler:      controlHandler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}

	errChan := make(chan error, 2)

	go func() {
		slog.Info("firewall server starting", "addr", cfg.Listen)
		if err := firewallServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("firewall server error: %w", err)
		}
	}()

	if controlServer != nil {
		go func() {
			slog.Info("control server starting", "addr", cfg.Control.Listen)
			if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("control server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("server error", "error", err)
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down")
	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := firewallServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("firewall server shutdown error", "error", err)
	}
	if controlServer != nil {
		if err := controlServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("control server shutdown error", "error", err)
		}
	}

	slog.Info("firewall stopped")
}

// sweepLoop periodically evicts idle rate-limit and strike entries,
// bounding memory under adversarial key cardinality (spec.md §9).
func sweepLoop(ctx context.Context, limiter *ratelimit.Limiter, strikes *strike.Engine, olderThan time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evictedHits := limiter.Sweep(olderThan)
			evictedStrikes := strikes.Sweep(olderThan)
			if evictedHits > 0 || evictedStrikes > 0 {
				slog.Debug("swept idle entries", "rate_limit_buckets", evictedHits, "strike_records", evictedStrikes)
			}
		}
	}
}
