package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chilla55/backup-dashboard/alerts"
	"github.com/chilla55/backup-dashboard/config"
	"github.com/chilla55/backup-dashboard/dashboard"
	"github.com/chilla55/backup-dashboard/health"
	"github.com/chilla55/backup-dashboard/metrics"
	"github.com/chilla55/backup-dashboard/middleware"
	"github.com/chilla55/backup-dashboard/poller"
	"github.com/chilla55/backup-dashboard/ratelimit"
	"github.com/chilla55/backup-dashboard/timefmt"
	"github.com/chilla55/backup-dashboard/upstream"
	"github.com/chilla55/backup-dashboard/watcher"
	"github.com/chilla55/backup-dashboard/webhook"
)

var (
	configPath      = flag.String("config", getEnv("CONFIG_PATH", "/etc/backup-dashboard/dashboard.yaml"), "Path to the YAML config")
	listenAddr      = flag.String("listen", getEnv("LISTEN_ADDR", ""), "HTTP listen address (overrides server.listen)")
	upstreamURL     = flag.String("upstream", getEnv("UPSTREAM_URL", ""), "Monitoring API base URL (overrides upstream.url)")
	shutdownTimeout = flag.Duration("shutdown-timeout", getDurationEnv("SHUTDOWN_TIMEOUT", 15*time.Second), "Graceful shutdown timeout")
	debug           = flag.Bool("debug", getEnv("DEBUG", "0") == "1", "Enable debug logging")
)

func main() {
	flag.Parse()

	setupLogging()

	log.Info().Msg("Starting backup dashboard")
	log.Info().Str("config", *configPath).Msg("Configuration")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}
	log.Info().Str("upstream", cfg.Upstream.URL).Str("listen", cfg.Server.Listen).Msg("Configuration")

	normalizer, err := newNormalizer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid display settings")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)
	httpMetrics := metrics.New(reg)

	client := upstream.New(cfg.Upstream.URL,
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithRetries(cfg.Upstream.Retries),
	)

	poll := poller.New(client, pollerSettings(cfg), poller.WithMetrics(collector))

	tracker := health.NewTracker(0)
	poll.OnUpdate(tracker.Observe)

	notifier := webhook.New(cfg.Webhooks)
	evaluator := alerts.New(notifier, normalizer, cfg.Display.StaleAfter, alerts.WithMetrics(collector))
	if notifier.IsEnabled() {
		poll.OnUpdate(evaluator.Observe)
	}

	dash := dashboard.New(poll, client, normalizer, dashboardSettings(cfg), dashboard.WithMetrics(collector))

	limiter, err := ratelimit.NewLimiter(cfg.Server.RateLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid rate limit settings")
	}

	mux := http.NewServeMux()
	dash.Register(mux, func(name string, h http.Handler) http.Handler {
		switch name {
		case "company", "api_refresh":
			h = limiter.Middleware(name)(h)
		}
		return httpMetrics.Monitor(name, h)
	})
	mux.Handle("GET /healthz", tracker.Handler())
	mux.Handle("GET /readyz", tracker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler(reg))

	mws := []func(http.Handler) http.Handler{
		middleware.Recover,
		middleware.RequestID,
		middleware.Logger,
		middleware.NoCache,
	}
	if cfg.CompressionEnabled() {
		mws = append(mws, middleware.Compress)
	}

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           middleware.Chain(mux, mws...),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	configWatcher := watcher.NewConfigWatcher(*configPath, func(next *config.Config) {
		applyOverrides(next)
		n, err := newNormalizer(next)
		if err != nil {
			log.Error().Err(err).Msg("Ignoring reloaded display settings")
			return
		}
		if next.Upstream.URL != client.BaseURL() || next.Server.Listen != cfg.Server.Listen {
			log.Warn().Msg("upstream.url and server.listen changes need a restart")
		}
		poll.UpdateSettings(pollerSettings(next))
		dash.UpdateSettings(dashboardSettings(next))
		dash.UpdateNormalizer(n)
		evaluator.SetStaleAfter(next.Display.StaleAfter)
		evaluator.UpdateNormalizer(n)
	})

	go poll.Start(ctx)
	go limiter.Start(ctx)

	if _, err := os.Stat(*configPath); err == nil {
		go func() {
			if err := configWatcher.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Configuration watcher error")
			}
		}()
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Dashboard listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().Msg("All services started successfully")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Shutdown timeout exceeded, forcing exit")
	}

	// Stop polling and watching, then let pending alerts drain
	cancel()

	done := make(chan struct{})
	go func() {
		evaluator.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Shutdown complete")
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, dropping pending alerts")
	}
}

// loadConfig reads the YAML file (defaults when it is missing), applies
// flag and environment overrides and validates the result
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		log.Warn().Str("path", *configPath).Msg("Config file not found, using defaults")
		cfg = config.Default()
	}

	applyOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if *upstreamURL != "" {
		cfg.Upstream.URL = *upstreamURL
	}
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}
}

func newNormalizer(cfg *config.Config) (*timefmt.Normalizer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("display settings: %w", err)
	}
	return timefmt.New(loc, cfg.Display.NaiveOffsetHours), nil
}

func pollerSettings(cfg *config.Config) poller.Settings {
	return poller.Settings{
		Interval:    cfg.Polling.Interval,
		MinInterval: cfg.Polling.MinInterval,
		IdleAfter:   cfg.Polling.IdleAfter,
		Limit:       cfg.Display.RecentDots,
	}
}

func dashboardSettings(cfg *config.Config) dashboard.Settings {
	return dashboard.Settings{
		Title:           cfg.Display.Title,
		RecentDots:      cfg.Display.RecentDots,
		StaleAfter:      cfg.Display.StaleAfter,
		PageSize:        cfg.Display.ModalPageSize,
		RefreshInterval: cfg.Polling.Interval,
	}
}

// setupLogging configures zerolog based on environment
func setupLogging() {
	logLevel := getEnv("LOG_LEVEL", "info")
	if *debug {
		logLevel = "debug"
	}
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	logFormat := getEnv("LOG_FORMAT", "json")
	if logFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Add caller information in debug mode
	if logLevel == "debug" {
		log.Logger = log.With().Caller().Logger()
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
