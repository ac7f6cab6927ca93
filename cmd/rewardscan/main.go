package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"rewardledger/observability/logging"
	"rewardledger/services/rewardscan"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to rewardscan configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("REWARD_ENV"))

	cfg, err := rewardscan.LoadConfig(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logOpts := []logging.Option{}
	if strings.TrimSpace(cfg.LogLevel) != "" {
		logOpts = append(logOpts, logging.WithLevel(cfg.LogLevel))
	}
	if strings.TrimSpace(cfg.LogFile) != "" {
		logOpts = append(logOpts, logging.WithRotatingFile(cfg.LogFile))
	}
	logger := logging.Setup("rewardscan", env, logOpts...)

	db, err := cfg.Database.Open()
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}

	indexer, err := rewardscan.NewIndexer(db, cfg, logger)
	if err != nil {
		logger.Error("failed to build indexer", slog.Any("error", err))
		os.Exit(1)
	}
	defer indexer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("rewardscan starting",
		slog.String("feed", cfg.NodeWS),
		slog.String("driver", cfg.Database.Driver),
	)

	if err := indexer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("indexer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("rewardscan stopped")
}
