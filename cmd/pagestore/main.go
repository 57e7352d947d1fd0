package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/pagekeeper/internal/logging"
	"github.com/agentworkforce/pagekeeper/internal/pagestore"
)

func main() {
	logger := logging.New(envOrDefault("PAGESTORE_LOG_LEVEL", "info"), envOrDefault("PAGESTORE_LOG_FORMAT", "console")).Sugar()
	defer func() { _ = logger.Sync() }()

	addr := envOrDefault("PAGESTORE_ADDR", ":8080")
	dir := envOrDefault("PAGESTORE_DIR", "pages")
	store, err := pagestore.NewStore(dir)
	if err != nil {
		logger.Fatalw("failed to open pages directory", "dir", dir, "error", err)
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           pagestore.NewHandler(store, os.Getenv("PAGESTORE_TOKEN"), logger.Named("http")),
		ReadHeaderTimeout: durationEnv(logger, "PAGESTORE_READ_HEADER_TIMEOUT", 5*time.Second),
		MaxHeaderBytes:    intEnv(logger, "PAGESTORE_MAX_HEADER_BYTES", http.DefaultMaxHeaderBytes),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), durationEnv(logger, "PAGESTORE_SHUTDOWN_TIMEOUT", 10*time.Second))
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("shutdown incomplete", "error", err)
		}
	}()

	logger.Infow("pagestore listening", "addr", addr, "dir", store.Dir())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalw("server failed", "error", err)
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(logger *zap.SugaredLogger, name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warnw("invalid integer setting, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}

func durationEnv(logger *zap.SugaredLogger, name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warnw("invalid duration setting, using fallback", "name", name, "value", raw, "fallback", fallback.String())
		return fallback
	}
	return value
}
