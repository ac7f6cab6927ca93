package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rewardledger/gateway/config"
	"rewardledger/gateway/idempotency"
	"rewardledger/gateway/middleware"
	"rewardledger/gateway/routes"
	"rewardledger/observability/logging"
	telemetry "rewardledger/observability/otel"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to gateway configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("REWARD_ENV"))
	logger := logging.Setup("reward-gateway", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	telemetryCfg := telemetry.ConfigFromEnv(cfg.Observability.ServiceName, env)
	telemetryCfg.Metrics = cfg.Observability.Metrics
	telemetryCfg.Traces = cfg.Observability.Tracing
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	nodeURL, err := cfg.NodeURL()
	if err != nil {
		logger.Error("invalid node endpoint", slog.Any("error", err))
		os.Exit(1)
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
	}, logger)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ScopeClaim: cfg.Auth.ScopeClaim,
		ClockSkew:  cfg.Auth.ClockSkew,
	}, logger)

	rateLimits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for key, limit := range cfg.RateLimits {
		rateLimits[key] = middleware.RateLimit{
			RequestsPerMinute: limit.RequestsPerMinute,
			Burst:             limit.Burst,
		}
	}
	if len(rateLimits) == 0 {
		rateLimits[routes.RateLimitKeyQueries] = middleware.RateLimit{RequestsPerMinute: 600, Burst: 60}
		rateLimits[routes.RateLimitKeyMutations] = middleware.RateLimit{RequestsPerMinute: 120, Burst: 20}
	}
	limiter := middleware.NewRateLimiter(rateLimits)
	defer limiter.Stop()

	var idemStore *idempotency.Store
	if strings.TrimSpace(cfg.Idempotency.Path) != "" {
		idemStore, err = idempotency.NewStore(cfg.Idempotency.Path, cfg.Idempotency.TTL)
		if err != nil {
			logger.Error("failed to open idempotency store", slog.Any("error", err))
			os.Exit(1)
		}
		defer idemStore.Close()
	}

	router, err := routes.New(routes.Config{
		NodeTarget:    nodeURL,
		NodeToken:     cfg.NodeToken(),
		NodeTimeout:   cfg.Node.Timeout,
		Authenticator: auth,
		RateLimiter:   limiter,
		Observability: obs,
		Idempotency:   idemStore,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
		},
	})
	if err != nil {
		logger.Error("failed to configure routes", slog.Any("error", err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("gateway listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("node", nodeURL.String()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen and serve", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
