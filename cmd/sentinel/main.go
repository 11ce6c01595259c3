// Package main is the entry point for the Sentinel server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sp3esu/sentinel/internal/app"
	"github.com/sp3esu/sentinel/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to configuration file")
	flag.Parse()

	cfg := config.LoadOrDefault(*configPath)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Telemetry.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application state", "error", err)
		os.Exit(1)
	}

	logger.Info("starting sentinel",
		"bind_address", cfg.Server.BindAddress,
		"port", cfg.Server.Port,
		"cache_backend", cfg.Cache.Backend,
		"providers", state.Providers.Names(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	addr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.Port))
	httpDone := make(chan struct{})
	go func() {
		defer close(httpDone)
		logger.Info("http server listening", "addr", addr)
		if err := state.HTTP.Start(ctx, addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("sentinel ready", "api_endpoint", fmt.Sprintf("http://%s/v1", addr))

	<-ctx.Done()
	logger.Info("shutting down")

	deadline := time.Now().Add(15 * time.Second)
	waitFor("http server", httpDone, deadline, logger)
	waitFor("usage tracker flush", state.Usage.Done(), deadline, logger)

	logger.Info("sentinel stopped")
}

// waitFor blocks until done closes or the shared deadline passes, logging
// which one happened. The deadline is an absolute time, not a duration, so
// multiple sequential calls share one overall shutdown budget instead of
// each getting a fresh window.
func waitFor(name string, done <-chan struct{}, deadline time.Time, logger *slog.Logger) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("shutdown deadline exceeded, proceeding anyway", "component", name)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
