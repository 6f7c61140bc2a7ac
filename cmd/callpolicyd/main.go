package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plugandtel/callpolicy/internal/api"
	"github.com/plugandtel/callpolicy/internal/config"
	"github.com/plugandtel/callpolicy/internal/metrics"
	"github.com/plugandtel/callpolicy/internal/policy"
	"github.com/plugandtel/callpolicy/internal/recording"
	sipserver "github.com/plugandtel/callpolicy/internal/sip"
	"github.com/plugandtel/callpolicy/internal/store"
)

func main() {
	start := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	holder := config.NewHolder(cfg)

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting callpolicyd",
		"http_port", cfg.HTTPPort,
		"sip_port", cfg.SIPPort,
		"store", cfg.StoreBackend,
	)
	cfg.LogEffective()

	// Open the policy store and run migrations.
	db, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	secret, err := cfg.APISecretBytes()
	if err != nil {
		slog.Error("failed to decode api secret", "error", err)
		os.Exit(1)
	}

	// Metrics registry with the process collector.
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg, start)

	repo := store.NewPolicyRepository(db)
	pipeline := policy.NewPipeline(repo, holder, rec, logger)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Initialize SIP ingress.
	sipSrv, err := sipserver.NewServer(holder, pipeline)
	if err != nil {
		slog.Error("failed to create sip server", "error", err)
		os.Exit(1)
	}
	if err := sipSrv.Start(appCtx); err != nil {
		slog.Error("failed to start sip server", "error", err)
		os.Exit(1)
	}

	// Retention housekeeping for the recorder's output directory.
	recording.StartCleanupTicker(appCtx, holder, time.Hour)

	// HTTP server using the api package.
	handler := api.NewServer(pipeline, holder, config.Reload, secret, reg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down servers")
	sipSrv.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callpolicyd stopped")
}

// openStore opens the configured backend. SQLite keeps everything in a
// single file under the data dir; postgres follows the DSN.
func openStore(cfg *config.Config) (*store.DB, error) {
	switch cfg.StoreBackend {
	case "postgres":
		return store.OpenPostgres(cfg.StoreDSN)
	default:
		return store.OpenSQLite(cfg.DataDir)
	}
}
