package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/config"
	"github.com/rcliao/memoryd/internal/memory"
)

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg, err := config.Load("", map[string]any{"db_path": filepath.Join(dir, "memory.db")})
	require.NoError(t, err)
	return cfg
}

func TestNew_ServesToolsAndPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := New(ctx, testConfig(t, dir), nil)
	require.NoError(t, err)
	env := a.Dispatcher.Call(ctx, "store_memory", map[string]any{"content": "persistent vectors survive restarts", "file_name": "p.md"})
	require.True(t, env.OK, "%+v", env.Error)
	first := env.Data.(*memory.StoreResult)
	require.NoError(t, a.Close(ctx))

	b, err := New(ctx, testConfig(t, dir), nil)
	require.NoError(t, err)
	defer b.Close(ctx)

	env = b.Dispatcher.Call(ctx, "retrieve_memory", map[string]any{"query": "vectors restarts"})
	require.True(t, env.OK, "%+v", env.Error)
	hits := env.Data.(*memory.RetrieveResult).Hits
	require.NotEmpty(t, hits)
	assert.Equal(t, first.ResourceID, hits[0].ResourceID)

	env = b.Dispatcher.Call(ctx, "store_memory", map[string]any{"content": "second", "file_name": "s.md"})
	require.True(t, env.OK)
	second := env.Data.(*memory.StoreResult)
	assert.Greater(t, second.Chunks[0].VectorID, first.Chunks[len(first.Chunks)-1].VectorID)

	stats := b.Dispatcher.Call(ctx, "get_memory_statistics", nil).Data.(*memory.Statistics)
	assert.Equal(t, 2, stats.Resources)
	assert.Equal(t, stats.Chunks, stats.IndexedChunks)
	assert.True(t, stats.CacheEnabled)
	assert.False(t, stats.GraphEnabled)
}

func TestNew_InvalidEmbeddingProvider(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Embedding.Provider = "carrier-pigeon"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNew_GraphUnreachable(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Graph.Enabled = true
	cfg.Graph.URI = "ftp://nowhere"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestDispatcher_UnknownToolIsEnveloped(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, t.TempDir())
	cfg.VectorIndex.Path = "memory"
	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	env := a.Dispatcher.Call(ctx, "forget_everything", nil)
	require.False(t, env.OK)
	assert.Equal(t, apperr.NotFound, env.Error.Kind)
}
