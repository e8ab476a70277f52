// Package memory orchestrates the relational store, the vector indexes, the
// embedding collaborator and the optional graph and cache collaborators. It
// owns the allocate, index, commit discipline that keeps the store and the
// indexes in lockstep.
package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/cache"
	"github.com/rcliao/memoryd/internal/chunker"
	"github.com/rcliao/memoryd/internal/embedding"
	"github.com/rcliao/memoryd/internal/graph"
	"github.com/rcliao/memoryd/internal/store"
	"github.com/rcliao/memoryd/internal/vectorindex"
)

// Options wires collaborators into a Service. Embedder, Chunks and Patterns
// are required; Graph and Cache may be nil.
type Options struct {
	Embedder embedding.Embedder
	Chunks   vectorindex.Index
	Patterns vectorindex.Index
	Graph    graph.Collaborator
	Cache    *cache.Cache
	Chunking chunker.Options

	// ContextThreshold is the minimum chunk similarity for a resource to be
	// recorded as context of a logged attempt; ContextLimit caps how many.
	ContextThreshold float64
	ContextLimit     int

	Logger *zap.Logger
}

// Service is the memory core behind every tool.
type Service struct {
	store    *store.SQLiteStore
	embedder embedding.Embedder
	chunks   vectorindex.Index
	patterns vectorindex.Index
	graph    graph.Collaborator
	cache    *cache.Cache
	chunking chunker.Options

	contextThreshold float64
	contextLimit     int

	log *zap.Logger
}

// New creates a Service.
func New(st *store.SQLiteStore, opts Options) (*Service, error) {
	if st == nil || opts.Embedder == nil || opts.Chunks == nil || opts.Patterns == nil {
		return nil, fmt.Errorf("memory: store, embedder and both indexes are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ContextLimit <= 0 {
		opts.ContextLimit = 3
	}
	if opts.ContextThreshold <= 0 {
		opts.ContextThreshold = 0.3
	}
	return &Service{
		store:            st,
		embedder:         opts.Embedder,
		chunks:           opts.Chunks,
		patterns:         opts.Patterns,
		graph:            opts.Graph,
		cache:            opts.Cache,
		chunking:         opts.Chunking,
		contextThreshold: opts.ContextThreshold,
		contextLimit:     opts.ContextLimit,
		log:              opts.Logger,
	}, nil
}

// Store returns the underlying relational store.
func (s *Service) Store() *store.SQLiteStore { return s.store }

// Statistics reports store counters alongside index sizes.
type Statistics struct {
	*store.Stats
	IndexedChunks   int  `json:"indexed_chunks"`
	IndexedPatterns int  `json:"indexed_patterns"`
	GraphEnabled    bool `json:"graph_enabled"`
	CacheEnabled    bool `json:"cache_enabled"`
	Halted          bool `json:"halted"`
}

// Statistics returns memory statistics.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "collect statistics")
	}
	return &Statistics{
		Stats:           st,
		IndexedChunks:   s.chunks.Count(),
		IndexedPatterns: s.patterns.Count(),
		GraphEnabled:    s.graph != nil,
		CacheEnabled:    s.cache != nil,
		Halted:          s.store.Halted() != nil,
	}, nil
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		if apperr.IsKind(err, apperr.CollaboratorTimeout) || ctx.Err() != nil {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.Internal, err, "embed")
	}
	return vec, nil
}
