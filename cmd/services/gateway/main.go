package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/storepulse/pulsegate/internal/audit"
	"github.com/storepulse/pulsegate/internal/auth"
	"github.com/storepulse/pulsegate/internal/catalog"
	"github.com/storepulse/pulsegate/internal/config"
	"github.com/storepulse/pulsegate/internal/handlers"
	"github.com/storepulse/pulsegate/internal/httpcache"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/metrics"
	"github.com/storepulse/pulsegate/internal/query"
	"github.com/storepulse/pulsegate/internal/queue"
	"github.com/storepulse/pulsegate/internal/resultcache"
	"github.com/storepulse/pulsegate/internal/router"
	"github.com/storepulse/pulsegate/internal/services"
	"github.com/storepulse/pulsegate/internal/upstream"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("Gateway starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	keys, err := auth.NewKeyring(cfg.Auth.SessionSecret, cfg.Auth.ShareSecret, cfg.Auth.Algorithm)
	if err != nil {
		logger.Fatal("Failed to initialize keyring", "error", err)
	}

	// Upstream client with a cached service credential
	tokens := upstream.NewCachedTokenSource(cfg.Upstream.APISecret, cfg.Upstream.TokenTTL, cfg.Upstream.TokenSkew,
		upstream.WithRefreshHook(m.TokenRefreshes.Inc))
	client := upstream.NewClient(upstream.Config{
		BaseURL:     cfg.Upstream.URL,
		LoadTimeout: cfg.Upstream.LoadTimeout,
		LoadRetries: cfg.Upstream.LoadRetries,
		MetaTimeout: cfg.Upstream.MetaTimeout,
		MetaRetries: cfg.Upstream.MetaRetries,
		BackoffBase: cfg.Upstream.BackoffBase,
	}, tokens, upstream.WithMetrics(m), upstream.WithLogger(logger))

	// Optional result cache
	cache, err := resultcache.New(cfg.ResultCache, m)
	if err != nil {
		logger.Fatal("Failed to initialize result cache", "error", err)
	}
	defer func() { _ = cache.Close() }()
	if cache != nil {
		logger.Info("Result cache enabled", "backend", cfg.ResultCache.Backend, "ttl", cfg.ResultCache.TTL)
	}

	// Optional audit trail
	var recorder *audit.Recorder
	if cfg.Audit.Enabled {
		logger.Info("Connecting to audit queue", "type", cfg.Audit.Type, "url", cfg.Audit.URL)
		publisher, err := queue.NewPublisher(cfg.Audit)
		if err != nil {
			logger.Fatal("Failed to connect to audit queue", "error", err)
		}
		recorder = audit.NewRecorder(publisher, cfg.Audit.SubjectPrefix, logger)
		defer func() { _ = recorder.Close() }()
	}

	cat := catalog.Default()
	issuer := auth.NewShareIssuer(keys, cat, cfg.Auth.AccessTokenTTL)
	analytics := services.NewAnalyticsService(logger, cat, auth.NewResolver(issuer),
		query.NewCompiler(cat, cfg.Upstream.QueryLimit), client, cache, recorder, m)
	shares := services.NewShareService(logger, cat, issuer, cfg.Auth, recorder, m)

	app := router.New(logger, router.Dependencies{
		Config: *cfg,
		Keys:   keys,
		Handlers: handlers.Options{
			Analytics:    analytics,
			Shares:       shares,
			Responder:    httpcache.NewResponder(cfg.Cache.MaxAge, cfg.Cache.StaleWhileRevalidate, m),
			Prober:       client,
			ReadyTimeout: cfg.Upstream.ReadyTimeout,
			Version:      Version,
		},
		Metrics:  m,
		Gatherer: registry,
	})

	// Startup probe: report upstream availability without failing boot
	probeCtx, probeCancel := context.WithTimeout(context.Background(), cfg.Upstream.ReadyTimeout)
	if err := client.Probe(probeCtx, cfg.Upstream.ReadyTimeout, "startup"); err != nil {
		logger.Warn("Aggregation service not reachable at startup", "url", cfg.Upstream.URL, "error", err)
	} else {
		logger.Info("Aggregation service reachable", "url", cfg.Upstream.URL)
	}
	probeCancel()

	// Start server in goroutine
	go func() {
		addr := cfg.GetServerAddress()
		logger.Info("Server listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with 10 second timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
