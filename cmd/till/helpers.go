package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Veraticus/tillpoint/internal/cache"
	"github.com/Veraticus/tillpoint/internal/config"
	"github.com/Veraticus/tillpoint/internal/discovery"
	"github.com/Veraticus/tillpoint/internal/secrets"
	"github.com/Veraticus/tillpoint/internal/storage"
	"github.com/Veraticus/tillpoint/internal/terminal"
)

// loaded is the configuration read by initConfig.
var loaded *config.Config

// initStorage opens and migrates the terminal store with the configured
// cache and secret box.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	box, err := secrets.NewBoxFromBase64(loaded.Secrets.Key)
	if err != nil {
		return nil, err
	}

	var terminalCache cache.TerminalCache = cache.NewMemoryCache()
	if addr := loaded.Cache.RedisAddr; addr != "" {
		rc := cache.NewRedisCache(addr, loaded.Cache.RedisPassword, loaded.Cache.RedisDB, loaded.Cache.TTL)
		if err := rc.Ping(ctx); err != nil {
			slog.Warn("Redis unavailable, using in-memory terminal cache", "addr", addr, "error", err)
			_ = rc.Close()
		} else {
			terminalCache = rc
		}
	}

	store, err := storage.NewSQLiteStorage(loaded.Database.Path,
		storage.WithCache(terminalCache),
		storage.WithSecrets(box))
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func closeStorage(store *storage.SQLiteStorage) {
	if err := store.Close(); err != nil {
		slog.Error("failed to close storage", "error", err)
	}
	if rc, ok := store.Cache().(*cache.RedisCache); ok {
		if err := rc.Close(); err != nil {
			slog.Error("failed to close redis cache", "error", err)
		}
	}
}

func newScanner(ports []int, apiKey string) *discovery.Scanner {
	if len(ports) == 0 {
		ports = loaded.Discovery.Ports
	}
	return discovery.NewScanner(
		discovery.WithPorts(ports...),
		discovery.WithProbeTimeout(loaded.Discovery.ProbeTimeout),
		discovery.WithBatchSize(loaded.Discovery.BatchSize),
		discovery.WithAPIKey(apiKey),
		discovery.WithHTTPClient(&http.Client{}),
	)
}

// newClient builds a transport client for a stored terminal.
func newClient(ctx context.Context, store *storage.SQLiteStorage, id string) (*terminal.Client, error) {
	cfg, err := store.ClientConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	policy := loaded.Transport.RetryPolicy()
	cfg.RetryPolicy = &policy
	cfg.Timeout = loaded.Transport.Timeout
	return terminal.NewClient(cfg)
}
