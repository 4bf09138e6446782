package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mundotango/realtime/internal/api"
	"github.com/mundotango/realtime/internal/auth"
	"github.com/mundotango/realtime/internal/config"
	"github.com/mundotango/realtime/internal/realtime"
	"github.com/mundotango/realtime/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so deferred cleanups always execute.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	st, err := store.Open(cfg.BadgerFilepath, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		log.Info("closing store")
		_ = st.Close()
	}()

	hub := realtime.NewHub(log)
	go hub.Run()

	var tokens realtime.TokenVerifier
	if cfg.JWTSecret != "" {
		tokens = auth.NewTokens(cfg.JWTSecret, cfg.AuthTokenTTL)
	}

	dispatcher := realtime.NewDispatcher(hub, notificationSink{st}, log)
	handlers := realtime.NewHandlers(hub, dispatcher, storeAdapter{st}, tokens, cfg.AuthRequired, log)

	origin := realtime.NewOriginPolicy(cfg.Origins(), log)
	wsHandler := realtime.NewWSHandler(hub, handlers, origin, realtime.ClientOptions{
		MaxMessageSize:  cfg.MaxMessageSize,
		SendBufferSize:  cfg.SendBufferSize,
		RateLimitBurst:  cfg.RateLimitBurst,
		RateLimitRefill: cfg.RateLimitRefill,
	}, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", realtime.HealthHandler)
	mux.Handle("/ws", wsHandler)
	api.NewHandler(dispatcher, hub.Registry(), st, st, log).Register(mux)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr, "auth_required", cfg.AuthRequired)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("hub shutdown", "error", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
