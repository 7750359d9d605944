// Package main is the entry point for the recommendation gateway. It loads
// configuration, wires the circuit breakers and the degradation pipeline,
// assembles the middleware stack, starts the HTTP server, and handles
// graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/calebmurr/recgate/internal/api"
	"github.com/calebmurr/recgate/internal/auth"
	"github.com/calebmurr/recgate/internal/circuitbreaker"
	"github.com/calebmurr/recgate/internal/clock"
	"github.com/calebmurr/recgate/internal/config"
	"github.com/calebmurr/recgate/internal/logging"
	"github.com/calebmurr/recgate/internal/metrics"
	"github.com/calebmurr/recgate/internal/middleware"
	"github.com/calebmurr/recgate/internal/ratelimit"
	"github.com/calebmurr/recgate/internal/recommend"
	"github.com/calebmurr/recgate/internal/upstream"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional)")
	flag.Parse()

	// Local development convenience; a missing .env is not an error.
	godotenv.Load() //nolint:errcheck

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"user_profile_url", cfg.Upstreams.UserProfileURL,
		"content_url", cfg.Upstreams.ContentURL,
		"trending_url", cfg.Upstreams.TrendingURL,
		"auth_enabled", cfg.Auth.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	breakerCfg := breakerConfig(cfg.Breaker)
	clk := clock.System()
	profileCB := circuitbreaker.New("user-profile", breakerCfg, clk, logger)
	contentCB := circuitbreaker.New("content", breakerCfg, clk, logger)

	caller := upstream.NewCaller(logger)
	pipeline := recommend.New(caller, profileCB, contentCB, recommend.Endpoints{
		UserProfileURL: cfg.Upstreams.UserProfileURL,
		ContentURL:     cfg.Upstreams.ContentURL,
		TrendingURL:    cfg.Upstreams.TrendingURL,
	}, logger)

	limiter := ratelimit.New(cfg.RateLimit, cfg.Server.TrustedProxies, logger)
	defer limiter.Stop()

	mux := http.NewServeMux()
	apiHandler := api.New(pipeline, profileCB, contentCB, logger)
	apiHandler.RegisterRoutes(mux, auth.Guard(cfg.Auth, logger))

	// Assemble middleware stack:
	// Recovery → RequestID → SecurityHeaders → Logging → CORS → RateLimit → mux
	var handler http.Handler = mux
	handler = limiter.Middleware()(handler)
	handler = middleware.CORS(nil)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// The Prometheus scrape endpoint and the liveness probe bypass the
	// middleware stack.
	probes := http.NewServeMux()
	probes.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"recommendation-service"}` + "\n")) //nolint:errcheck
	})
	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		probes.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || (cfg.Metrics.IsEnabled() && r.URL.Path == metricsPath) {
			probes.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	// Config hot-reload: breaker tuning and rate limits update in place.
	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()

	reloader.OnReload(func(newCfg *config.Config) {
		bc := breakerConfig(newCfg.Breaker)
		profileCB.UpdateConfig(bc)
		contentCB.UpdateConfig(bc)
		limiter.UpdateConfig(newCfg.RateLimit)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting recommendation gateway", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway stopped gracefully")
}

func breakerConfig(bc config.BreakerConfig) circuitbreaker.Config {
	return circuitbreaker.Config{
		RequestTimeout:              bc.RequestTimeout,
		WindowSize:                  bc.WindowSize,
		FailureRateThreshold:        *bc.FailureRateThreshold,
		ConsecutiveFailureThreshold: bc.ConsecutiveFailureThreshold,
		OpenStateDuration:           bc.OpenStateDuration,
		HalfOpenMaxTrials:           bc.HalfOpenMaxTrials,
	}
}

// newLogger builds the JSON logger from config: stdout, stderr, or a
// rotating file. The returned func closes the file writer, if any.
func newLogger(lc config.LoggingConfig) (*slog.Logger, func(), error) {
	var out io.Writer
	closeFn := func() {}

	switch lc.Output {
	case "stdout", "":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		rw, err := logging.NewRotatingWriter(lc.Output, lc.MaxSizeMB, lc.MaxBackups, lc.MaxAgeDays)
		if err != nil {
			return nil, nil, err
		}
		out = rw
		closeFn = func() { rw.Close() }
	}

	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closeFn, nil
}
