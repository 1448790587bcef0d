package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"counterchain/config"
	"counterchain/observability/logging"
	telemetry "counterchain/observability/otel"
)

const (
	serviceName    = "counterd"
	serviceVersion = "0.1.0"
	envVar         = "COUNTER_ENV"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	env := strings.TrimSpace(os.Getenv(envVar))
	if env == "" {
		env = cfg.Environment
	}

	logOpts := []logging.Option{logging.WithLevel(cfg.Logging.Level)}
	if cfg.Logging.File != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups))
	}
	logger, closer := logging.Setup(serviceName, env, logOpts...)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, logger); err != nil {
		logger.Error("counterd stopped", "error", err)
		stop()
		_ = closer.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, env string, logger *slog.Logger) error {
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			Environment:    env,
			Endpoint:       cfg.Telemetry.Endpoint,
			Insecure:       cfg.Telemetry.Insecure,
			Headers:        cfg.Telemetry.Headers,
			Metrics:        cfg.Telemetry.Metrics,
			Traces:         cfg.Telemetry.Traces,
			SampleRatio:    cfg.Telemetry.SampleRatio,
			Interval:       time.Duration(cfg.Telemetry.IntervalSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	n, err := newNode(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()
	logger.Info("node ready",
		"height", n.runtime.Height(),
		"root", n.runtime.Root().Hex(),
		"counter", cfg.Counter.Account,
		"settlement", cfg.Counter.Settlement)

	listener, err := net.Listen("tcp", cfg.RPC.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.RPC.ListenAddress, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- n.server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-serveErr
}
