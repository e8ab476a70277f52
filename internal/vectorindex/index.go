// Package vectorindex is the similarity-index collaborator. Entries are keyed
// by allocator-issued vector ids; the index never chooses its own keys.
package vectorindex

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rcliao/memoryd/internal/apperr"
)

// Hit is one ranked search result.
type Hit struct {
	VectorID int64
	Score    float64
}

// Index is the narrow interface the core consumes.
type Index interface {
	Insert(ctx context.Context, id int64, vec []float32, meta map[string]string) error
	// Search returns at most k hits whose metadata matches every filter pair,
	// ordered by SortHits.
	Search(ctx context.Context, vec []float32, k int, filter map[string]string) ([]Hit, error)
	Delete(ctx context.Context, ids ...int64) error
	Count() int
}

// SortHits orders hits by descending score, breaking ties by ascending vector
// id. NaN scores rank as zero.
func SortHits(hits []Hit) {
	for i := range hits {
		if math.IsNaN(hits[i].Score) {
			hits[i].Score = 0
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].VectorID < hits[j].VectorID
	})
}

type bounded struct {
	Index
	timeout time.Duration
}

// WithTimeout bounds Insert, Search and Delete. Calls that run past the bound
// fail with a CollaboratorTimeout naming the vector index.
func WithTimeout(idx Index, d time.Duration) Index {
	if d <= 0 {
		return idx
	}
	return &bounded{Index: idx, timeout: d}
}

func (b *bounded) Insert(ctx context.Context, id int64, vec []float32, meta map[string]string) error {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return apperr.Bounded(ctx, apperr.CollabVectorIndex, b.Index.Insert(cctx, id, vec, meta))
}

func (b *bounded) Search(ctx context.Context, vec []float32, k int, filter map[string]string) ([]Hit, error) {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	hits, err := b.Index.Search(cctx, vec, k, filter)
	if err != nil {
		return nil, apperr.Bounded(ctx, apperr.CollabVectorIndex, err)
	}
	return hits, nil
}

func (b *bounded) Delete(ctx context.Context, ids ...int64) error {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return apperr.Bounded(ctx, apperr.CollabVectorIndex, b.Index.Delete(cctx, ids...))
}
