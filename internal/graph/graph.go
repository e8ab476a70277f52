// Package graph is the graph-query collaborator that mirrors context links and
// answers multi-hop traversals. The relational store stays the system of
// record; the graph only ever holds links that were committed there.
package graph

import (
	"context"
	"time"

	"github.com/rcliao/memoryd/internal/apperr"
)

// MaxDepth bounds traversal.
const MaxDepth = 5

// Relationship is one directed link as mirrored into the graph.
type Relationship struct {
	LinkID   string
	SourceID string
	TargetID string
	Kind     string
	Score    *float64
}

// Edge is a link reached by traversal, with the hop count at which it was
// first reached from the start entity.
type Edge struct {
	LinkID string
	Depth  int
}

// Collaborator is the narrow interface the link graph consumes.
type Collaborator interface {
	CreateRelationship(ctx context.Context, rel Relationship) error
	DeleteRelationship(ctx context.Context, linkID string) error
	// QueryRelationships returns every link within depth hops of entityID,
	// ignoring direction.
	QueryRelationships(ctx context.Context, entityID string, depth int) ([]Edge, error)
	Close(ctx context.Context) error
}

type bounded struct {
	Collaborator
	timeout time.Duration
}

// WithTimeout bounds every graph call. Calls that run past the bound fail
// with a CollaboratorTimeout naming the graph.
func WithTimeout(c Collaborator, d time.Duration) Collaborator {
	if d <= 0 {
		return c
	}
	return &bounded{Collaborator: c, timeout: d}
}

func (b *bounded) CreateRelationship(ctx context.Context, rel Relationship) error {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return apperr.Bounded(ctx, apperr.CollabGraph, b.Collaborator.CreateRelationship(cctx, rel))
}

func (b *bounded) DeleteRelationship(ctx context.Context, linkID string) error {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return apperr.Bounded(ctx, apperr.CollabGraph, b.Collaborator.DeleteRelationship(cctx, linkID))
}

func (b *bounded) QueryRelationships(ctx context.Context, entityID string, depth int) ([]Edge, error) {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	edges, err := b.Collaborator.QueryRelationships(cctx, entityID, depth)
	if err != nil {
		return nil, apperr.Bounded(ctx, apperr.CollabGraph, err)
	}
	return edges, nil
}
