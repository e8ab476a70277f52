package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rcliao/memoryd/internal/chunker"
	"github.com/rcliao/memoryd/internal/embedding"
	"github.com/rcliao/memoryd/internal/graph"
	"github.com/rcliao/memoryd/internal/store"
	"github.com/rcliao/memoryd/internal/vectorindex"
)

type fixture struct {
	svc      *Service
	store    *store.SQLiteStore
	chunks   *faultyIndex
	patterns *faultyIndex
}

type option func(*Options)

func withGraph(g graph.Collaborator) option    { return func(o *Options) { o.Graph = g } }
func withEmbedder(e embedding.Embedder) option { return func(o *Options) { o.Embedder = e } }
func withChunking(c chunker.Options) option    { return func(o *Options) { o.Chunking = c } }

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	db, err := vectorindex.OpenDB("")
	require.NoError(t, err)
	chunks, err := db.Collection("chunks")
	require.NoError(t, err)
	patterns, err := db.Collection("patterns")
	require.NoError(t, err)

	f := &fixture{
		store:    st,
		chunks:   &faultyIndex{Index: chunks},
		patterns: &faultyIndex{Index: patterns},
	}
	o := Options{
		Embedder: embedding.NewHashEmbedder(0),
		Chunks:   f.chunks,
		Patterns: f.patterns,
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.svc, err = New(st, o)
	require.NoError(t, err)
	return f
}

var errIndexDown = errors.New("index unavailable")

// faultyIndex fails inserts for which failWhen reports true and can run a
// hook after each successful insert.
type faultyIndex struct {
	vectorindex.Index

	mu          sync.Mutex
	failWhen    func(id int64) bool
	afterInsert func(id int64)
}

func (f *faultyIndex) Insert(ctx context.Context, id int64, vec []float32, meta map[string]string) error {
	f.mu.Lock()
	fail, after := f.failWhen, f.afterInsert
	f.mu.Unlock()
	if fail != nil && fail(id) {
		return errIndexDown
	}
	if err := f.Index.Insert(ctx, id, vec, meta); err != nil {
		return err
	}
	if after != nil {
		after(id)
	}
	return nil
}

func (f *faultyIndex) setFailWhen(fn func(id int64) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWhen = fn
}

type slowEmbedder struct{ embedding.Embedder }

func (slowEmbedder) Embed(ctx context.Context, _ string) (embedding.Vector, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
		return nil, errors.New("unreachable")
	}
}

// memGraph is an in-memory graph collaborator.
type memGraph struct {
	mu   sync.Mutex
	rels map[string]graph.Relationship
}

func newMemGraph() *memGraph { return &memGraph{rels: map[string]graph.Relationship{}} }

func (g *memGraph) CreateRelationship(_ context.Context, rel graph.Relationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rels[rel.LinkID] = rel
	return nil
}

func (g *memGraph) DeleteRelationship(_ context.Context, linkID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rels, linkID)
	return nil
}

func (g *memGraph) QueryRelationships(_ context.Context, entityID string, depth int) ([]graph.Edge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	dist := map[string]int{entityID: 0}
	frontier := []string{entityID}
	seen := map[string]int{}
	for hop := 1; hop <= depth; hop++ {
		var next []string
		for _, node := range frontier {
			for id, r := range g.rels {
				var other string
				switch node {
				case r.SourceID:
					other = r.TargetID
				case r.TargetID:
					other = r.SourceID
				default:
					continue
				}
				if _, ok := seen[id]; !ok {
					seen[id] = hop
				}
				if _, ok := dist[other]; !ok {
					dist[other] = hop
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	edges := make([]graph.Edge, 0, len(seen))
	for id, d := range seen {
		edges = append(edges, graph.Edge{LinkID: id, Depth: d})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].LinkID < edges[j].LinkID })
	return edges, nil
}

func (g *memGraph) Close(context.Context) error { return nil }

func (g *memGraph) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rels)
}
