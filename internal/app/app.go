// Package app wires memoryd's components from a Config.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/memoryd/internal/cache"
	"github.com/rcliao/memoryd/internal/chunker"
	"github.com/rcliao/memoryd/internal/config"
	"github.com/rcliao/memoryd/internal/dispatch"
	"github.com/rcliao/memoryd/internal/embedding"
	"github.com/rcliao/memoryd/internal/graph"
	"github.com/rcliao/memoryd/internal/memory"
	"github.com/rcliao/memoryd/internal/store"
	"github.com/rcliao/memoryd/internal/tools"
	"github.com/rcliao/memoryd/internal/vectorindex"
)

// App holds the running components.
type App struct {
	Config     *config.Config
	Store      *store.SQLiteStore
	Memory     *memory.Service
	Dispatcher *dispatch.Dispatcher

	cache *cache.Cache
	graph graph.Collaborator
	log   *zap.Logger
}

// New opens the store, the vector index and the configured collaborators and
// registers the tool set. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.Store, err = store.NewSQLiteStore(cfg.DBPath, log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	db, err := vectorindex.OpenDB(cfg.VectorPath())
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	chunks, err := db.Collection("chunks")
	if err != nil {
		return nil, err
	}
	patterns, err := db.Collection("patterns")
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Enabled {
		a.cache, err = cache.New(cache.Config{NumCounters: cfg.Cache.NumCounters, MaxCost: cfg.Cache.MaxCost})
		if err != nil {
			return nil, err
		}
	}

	emb, err := embedding.New(embedding.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		URL:      cfg.Embedding.URL,
		APIKey:   cfg.Embedding.APIKey,
		Dims:     cfg.Embedding.Dims,
	})
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		emb = embedding.NewCached(emb, a.cache)
	}

	if cfg.Graph.Enabled {
		client, err := graph.Connect(ctx, graph.Neo4jConfig{
			URI:      cfg.Graph.URI,
			Username: cfg.Graph.Username,
			Password: cfg.Graph.Password,
			Database: cfg.Graph.Database,
		}, log.Named("graph"))
		if err != nil {
			return nil, fmt.Errorf("connect graph: %w", err)
		}
		a.graph = graph.WithTimeout(client, cfg.Timeouts.Graph)
	}

	a.Memory, err = memory.New(a.Store, memory.Options{
		Embedder: embedding.WithTimeout(emb, cfg.Timeouts.Embedding),
		Chunks:   vectorindex.WithTimeout(chunks, cfg.Timeouts.VectorIndex),
		Patterns: vectorindex.WithTimeout(patterns, cfg.Timeouts.VectorIndex),
		Graph:    a.graph,
		Cache:    a.cache,
		Chunking: chunker.Options{
			TargetSize: cfg.Chunking.TargetSize,
			MaxSize:    cfg.Chunking.MaxSize,
		},
		ContextThreshold: cfg.Patterns.ContextThreshold,
		ContextLimit:     cfg.Patterns.ContextLimit,
		Logger:           log.Named("memory"),
	})
	if err != nil {
		return nil, err
	}

	a.Dispatcher = dispatch.New(dispatch.WithLogger(log.Named("dispatch")))
	if err := tools.Register(a.Dispatcher, a.Memory); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	log.Info("memoryd ready",
		zap.String("db", cfg.DBPath),
		zap.String("vectors", cfg.VectorPath()),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Bool("graph", a.graph != nil),
		zap.Bool("cache", a.cache != nil))
	return a, nil
}

// Close releases every component. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.graph != nil {
		errs = append(errs, a.graph.Close(ctx))
	}
	a.cache.Close()
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
