package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"rewardledger/cmd/internal/passphrase"
	"rewardledger/config"
	"rewardledger/core"
	"rewardledger/observability/logging"
	telemetry "rewardledger/observability/otel"
	"rewardledger/rpc"
	"rewardledger/storage"
)

const authorityPassEnv = "REWARD_AUTHORITY_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("REWARD_ENV"))

	passSource := passphrase.NewSource(authorityPassEnv)
	cfg, err := config.Load(*configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logOpts := []logging.Option{}
	if strings.TrimSpace(cfg.LogLevel) != "" {
		logOpts = append(logOpts, logging.WithLevel(cfg.LogLevel))
	}
	if strings.TrimSpace(cfg.LogFile) != "" {
		logOpts = append(logOpts, logging.WithRotatingFile(cfg.LogFile))
	}
	logger := logging.Setup("rewardd", env, logOpts...)

	telemetryCfg := telemetry.ConfigFromEnv("rewardd", env)
	telemetryCfg.Metrics = true
	telemetryCfg.Traces = true
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

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	authority, err := cfg.Authority()
	if err != nil {
		logger.Error("failed to decode authority address", slog.Any("error", err))
		os.Exit(1)
	}

	ledger, err := core.NewLedger(db, authority.Word())
	if err != nil {
		logger.Error("failed to initialise ledger", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(ledger,
		rpc.WithLogger(logger),
		rpc.WithTrustedProxies(cfg.TrustedProxies, cfg.TrustProxyHeaders),
		rpc.WithMutationRateLimit(cfg.MutationsPerMinute),
	)

	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- server.Start(cfg.ListenAddress)
		close(rpcErrCh)
	}()

	if err := waitForStartup(cfg.ListenAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	lastID, err := ledger.LastID()
	if err != nil {
		logger.Error("failed to read ledger head", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("reward ledger node running",
		slog.String("listen", cfg.ListenAddress),
		slog.String("network", cfg.NetworkName),
		slog.String("authority", cfg.AuthorityAddress),
		slog.Uint64("last_id", lastID),
	)

	if err, ok := <-rpcErrCh; ok && err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

// waitForStartup polls the listen address until it accepts connections or the
// server goroutine reports an error.
func waitForStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok || err == nil {
				return fmt.Errorf("RPC server exited before startup confirmation")
			}
			return err
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok || err == nil {
				return fmt.Errorf("RPC server exited before startup confirmation")
			}
			return err
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
