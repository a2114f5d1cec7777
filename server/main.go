package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhaobenny/clawtop/internal/logging"
	"github.com/zhaobenny/clawtop/internal/metrics"
	"github.com/zhaobenny/clawtop/internal/store"
	"github.com/zhaobenny/clawtop/server/internal/handlers"
	"github.com/zhaobenny/clawtop/server/internal/middleware"
)

func main() {
	// Load configuration from environment
	addr := getEnv("CLAWTOP_LISTEN", "127.0.0.1:8787")
	dbPath := getEnv("CLAWMONITOR_DB", defaultDBPath())
	logJSON, _ := strconv.ParseBool(getEnv("CLAWTOP_LOG_JSON", "false"))
	logger := logging.New(getEnv("CLAWTOP_LOG_LEVEL", "info"), logJSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open database
	st, err := store.OpenAndMigrate(ctx, dbPath)
	if err != nil {
		logger.Error("open store failed", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	h := handlers.New(metrics.NewEngine(st), st, logger)
	mux := http.NewServeMux()
	h.Register(mux)

	limiter := middleware.NewIPRateLimiter(rate.Limit(20), 40)
	handler := middleware.RequestLogger(logger, middleware.SecurityHeaders(limiter.Limit(mux)))

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting clawtop-server", "addr", addr, "db", dbPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
		}
		logger.Info("clawtop-server stopped")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/Users/Shared"
	}
	return filepath.Join(home, ".clawtop", "usage.db")
}
