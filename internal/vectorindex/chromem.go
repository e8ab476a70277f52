package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// DB holds the named collections. Collections share nothing but the
// underlying database; ids stay unique across them because they come from
// one allocator.
type DB struct {
	db *chromem.DB
}

// OpenDB returns an in-memory database when path is empty, otherwise one
// persisted under path.
func OpenDB(path string) (*DB, error) {
	if path == "" {
		return &DB{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(path, true)
	if err != nil {
		return nil, fmt.Errorf("open vector db %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

// Collection returns the named collection, creating it if needed.
func (d *DB) Collection(name string) (*Collection, error) {
	// No embedding func: callers always supply vectors.
	col, err := d.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	return &Collection{col: col}, nil
}

// Collection is an Index backed by one chromem-go collection.
type Collection struct {
	col *chromem.Collection
}

func (c *Collection) Insert(ctx context.Context, id int64, vec []float32, meta map[string]string) error {
	if len(vec) == 0 {
		return fmt.Errorf("insert %d: empty vector", id)
	}
	doc := chromem.Document{
		ID:        docID(id),
		Embedding: vec,
		Metadata:  meta,
		Content:   docID(id),
	}
	if err := c.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("insert %d: %w", id, err)
	}
	return nil
}

// Search over-fetches until the k-th score is no longer tied with the last
// fetched one, so equal scores are resolved by vector id rather than by
// whatever the collection returned first.
func (c *Collection) Search(ctx context.Context, vec []float32, k int, filter map[string]string) ([]Hit, error) {
	total := c.col.Count()
	if k <= 0 || total == 0 {
		return nil, nil
	}
	if len(filter) == 0 {
		filter = nil
	}

	n := min(k*2, total)
	for {
		results, err := c.query(ctx, vec, n, filter)
		if err != nil {
			return nil, err
		}
		hits := make([]Hit, 0, len(results))
		for _, r := range results {
			id, err := strconv.ParseInt(r.ID, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("search: foreign document id %q", r.ID)
			}
			hits = append(hits, Hit{VectorID: id, Score: float64(r.Similarity)})
		}
		SortHits(hits)

		tied := len(hits) == n && len(hits) > k && hits[k-1].Score == hits[n-1].Score
		if !tied || n >= total {
			if len(hits) > k {
				hits = hits[:k]
			}
			return hits, nil
		}
		n = min(n*2, total)
	}
}

// query shrinks n when a filter leaves fewer matching documents than asked
// for; chromem rejects such requests instead of truncating.
func (c *Collection) query(ctx context.Context, vec []float32, n int, filter map[string]string) ([]chromem.Result, error) {
	for ; n >= 1; n-- {
		results, err := c.col.QueryEmbedding(ctx, vec, n, filter, nil)
		if err == nil {
			return results, nil
		}
		if !strings.Contains(err.Error(), "nResults") && !strings.Contains(err.Error(), "number of documents") {
			return nil, fmt.Errorf("search: %w", err)
		}
	}
	return nil, nil
}

func (c *Collection) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	docIDs := make([]string, len(ids))
	for i, id := range ids {
		docIDs[i] = docID(id)
	}
	if err := c.col.Delete(ctx, nil, nil, docIDs...); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (c *Collection) Count() int { return c.col.Count() }

func docID(id int64) string { return strconv.FormatInt(id, 10) }
