// Package cache holds terminal configurations in front of the store.
package cache

import (
	"context"
	"sync"

	"github.com/Veraticus/tillpoint/internal/model"
)

// TerminalCache caches terminal configurations by id. Entries never carry a
// plaintext API key.
type TerminalCache interface {
	Get(ctx context.Context, id string) (model.TerminalConfig, bool, error)
	Set(ctx context.Context, cfg model.TerminalConfig) error
	Invalidate(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// MemoryCache is a process-local TerminalCache. Set replaces an entry whole,
// so a reader sees either the old or the new configuration.
type MemoryCache struct {
	entries map[string]model.TerminalConfig
	mu      sync.RWMutex
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]model.TerminalConfig)}
}

// Get returns a copy of the cached configuration.
func (c *MemoryCache) Get(_ context.Context, id string) (model.TerminalConfig, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.entries[id]
	if !ok {
		return model.TerminalConfig{}, false, nil
	}
	return clone(cfg), true, nil
}

// Set stores cfg, replacing any previous entry.
func (c *MemoryCache) Set(_ context.Context, cfg model.TerminalConfig) error {
	cfg = clone(cfg)
	cfg.APIKey = ""

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cfg.ID] = cfg
	return nil
}

// Invalidate drops one entry.
func (c *MemoryCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

// Clear drops every entry.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]model.TerminalConfig)
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func clone(cfg model.TerminalConfig) model.TerminalConfig {
	if cfg.DeviceInfo != nil {
		info := *cfg.DeviceInfo
		info.Capabilities = append([]string(nil), info.Capabilities...)
		cfg.DeviceInfo = &info
	}
	return cfg
}

// NoopCache caches nothing.
type NoopCache struct{}

// Get always misses.
func (NoopCache) Get(context.Context, string) (model.TerminalConfig, bool, error) {
	return model.TerminalConfig{}, false, nil
}

// Set does nothing.
func (NoopCache) Set(context.Context, model.TerminalConfig) error { return nil }

// Invalidate does nothing.
func (NoopCache) Invalidate(context.Context, string) error { return nil }

// Clear does nothing.
func (NoopCache) Clear(context.Context) error { return nil }
