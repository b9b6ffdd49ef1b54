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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apresai/callsynth/internal/config"
	"github.com/apresai/callsynth/internal/mcpserver"
	"github.com/apresai/callsynth/internal/metrics"
	"github.com/apresai/callsynth/internal/observability"
)

func main() {
	base, err := config.Load(os.Getenv("CALLSYNTH_CONFIG"))
	if err != nil {
		observability.InitLogger(os.Stderr, "info", "json").Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.InitLogger(os.Stderr, base.LogLevel, base.LogFormat)

	if len(os.Args) > 1 {
		if err := manageKeys(context.Background(), os.Args[1:], logger); err != nil {
			logger.Error("Key command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("callsynth MCP server starting...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := observability.StartTracing(ctx, "callsynth-mcp", "1.0.0")
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("Tracer shutdown error", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if base.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			srv := &http.Server{Addr: base.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	srv, err := mcpserver.New(ctx, mcpserver.DefaultConfig(), base, m, logger)
	if err != nil {
		logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received, waiting for running batches to save...")
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer waitCancel()
		if err := srv.Wait(waitCtx); err != nil {
			logger.Warn("Batches still running at shutdown", "error", err)
		}
		logger.Info("Shutdown complete")
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// manageKeys handles `create-key <name>` and `revoke-key <id>`.
func manageKeys(ctx context.Context, args []string, logger *slog.Logger) error {
	cfg := mcpserver.DefaultConfig()
	if cfg.TableName == "" {
		return errors.New("key commands need DYNAMODB_TABLE")
	}
	if len(args) != 2 {
		return errors.New("usage: callsynth-mcp create-key <name> | revoke-key <key-id>")
	}
	store, err := mcpserver.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	switch args[0] {
	case "create-key":
		key, rec, err := mcpserver.CreateAPIKey(ctx, store, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Created key %s for %s. It is shown only once:\n%s\n", rec.KeyID, rec.Name, key)
		return nil
	case "revoke-key":
		if err := store.RevokeKey(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("Revoked key %s\n", args[1])
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}
