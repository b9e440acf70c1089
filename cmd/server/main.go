// Package main is the entry point for the TokenWard credential manager.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dtravers/tokenward/internal/config"
	"github.com/dtravers/tokenward/internal/credentials"
	"github.com/dtravers/tokenward/internal/crypto"
	"github.com/dtravers/tokenward/internal/database"
	"github.com/dtravers/tokenward/internal/events"
	"github.com/dtravers/tokenward/internal/exchange"
	"github.com/dtravers/tokenward/internal/notifications"
	"github.com/dtravers/tokenward/internal/scheduler"
	"github.com/dtravers/tokenward/internal/server"
	"github.com/dtravers/tokenward/internal/users"
	"github.com/dtravers/tokenward/internal/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefaultLogger(logger)
	defer logger.Sync()

	logger.Infow("Starting TokenWard",
		"port", cfg.Server.Port,
		"providers", len(cfg.Providers),
	)

	// Vault key: explicit secret wins, otherwise a key file that is
	// generated on first start.
	var vault *crypto.Vault
	if cfg.Crypto.Secret != "" {
		vault, err = crypto.NewVaultFromSecret(cfg.Crypto.Secret)
	} else {
		var key []byte
		key, err = crypto.LoadOrCreateKey(cfg.Crypto.KeyPath)
		if err == nil {
			vault, err = crypto.NewVault(key)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	logger.Infow("Database initialized", "path", cfg.Database.Path)

	registry := users.NewRegistry(db)
	store := credentials.NewStore(db, vault)
	queue := notifications.NewQueue(db)
	eventLog := events.NewLog(cfg.Events.Capacity)
	exchanger := exchange.NewClient(cfg.Providers)
	sched := scheduler.New(cfg.Scheduler, store, exchanger, eventLog)

	srv := server.New(cfg, registry, store, queue, eventLog, sched)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Start(ctx)

	purge := notifications.NewPurgeWorker(queue, cfg.Notifications.Retention, cfg.Notifications.PurgeInterval)
	go purge.Start(ctx)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Infow("Received shutdown signal", "signal", sig.String())
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Shutting down gracefully...")
	cancel() // Stop background workers

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("Server shutdown error", "error", err)
	}

	logger.Info("Server stopped")
	return nil
}
