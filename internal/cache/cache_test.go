package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tillpoint/internal/model"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, found, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, found)

	cfg := model.TerminalConfig{
		ID:           "t1",
		Name:         "Front desk",
		IPAddress:    "10.0.0.5",
		Port:         8080,
		APIKey:       "plaintext",
		SealedAPIKey: "enc:v1:abc",
		DeviceInfo:   &model.DeviceInfo{Capabilities: []string{"nfc"}},
	}
	require.NoError(t, c.Set(ctx, cfg))

	got, found, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, got.APIKey)
	assert.Equal(t, "enc:v1:abc", got.SealedAPIKey)

	// Mutating a returned copy must not leak into the cache.
	got.DeviceInfo.Capabilities[0] = "swipe"
	again, _, _ := c.Get(ctx, "t1")
	assert.Equal(t, []string{"nfc"}, again.DeviceInfo.Capabilities)

	require.NoError(t, c.Set(ctx, model.TerminalConfig{ID: "t2"}))
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.Invalidate(ctx, "t1"))
	_, found, _ = c.Get(ctx, "t1")
	assert.False(t, found)

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_ConcurrentReplace(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	require.NoError(t, c.Set(ctx, model.TerminalConfig{ID: "t", Name: "a", Port: 1}))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			name := "a"
			if i%2 == 1 {
				name = "b"
			}
			_ = c.Set(ctx, model.TerminalConfig{ID: "t", Name: name, Port: len(name) + i%2})
		}()
		go func() {
			defer wg.Done()
			got, found, _ := c.Get(ctx, "t")
			if assert.True(t, found) {
				// Name and port are always written together.
				assert.Equal(t, got.Name == "b", got.Port == 2)
			}
		}()
	}
	wg.Wait()
}

func TestNoopCache(t *testing.T) {
	var c TerminalCache = NoopCache{}
	require.NoError(t, c.Set(context.Background(), model.TerminalConfig{ID: "x"}))
	_, found, err := c.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, found)
}
