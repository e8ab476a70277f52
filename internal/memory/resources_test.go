package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/chunker"
	"github.com/rcliao/memoryd/internal/embedding"
)

func TestStoreResource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.StoreResource(ctx, StoreParams{Content: "foo bar", FileName: "a.md"})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, int64(1), res.Chunks[0].VectorID)
	assert.Equal(t, 1, f.chunks.Count())

	got, err := f.svc.GetResource(ctx, res.ResourceID)
	require.NoError(t, err)
	assert.Equal(t, "foo bar", got.Content)
	assert.Equal(t, "text", got.ResourceType)
}

func TestStoreResource_EmptyContent(t *testing.T) {
	_, err := newFixture(t).svc.StoreResource(context.Background(), StoreParams{Content: "  \n ", FileName: "a.md"})
	assert.Equal(t, apperr.ParameterMismatch, apperr.KindOf(err))
}

func twoChunkContent() (string, chunker.Options) {
	para := strings.Repeat("word ", 5)
	return para + "\n\n" + strings.Repeat("other ", 5), chunker.Options{TargetSize: 30, MaxSize: 40}
}

func TestStoreResource_IndexFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	content, opts := twoChunkContent()
	f := newFixture(t, withChunking(opts))
	f.chunks.setFailWhen(func(id int64) bool { return id == 2 })

	_, err := f.svc.StoreResource(ctx, StoreParams{Content: content, FileName: "a.md"})
	require.Error(t, err)
	assert.Equal(t, apperr.IndexWriteFailed, apperr.KindOf(err))
	assert.ErrorIs(t, err, errIndexDown)

	// No chunk rows, no orphaned index entry for the id that did land.
	ids, _ := f.store.ListResourceIDs(ctx, 10)
	assert.Empty(t, ids)
	assert.Equal(t, 0, f.chunks.Count())

	retired, err := f.store.RetiredVectorIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, retired)

	// A fresh call re-enters allocation cleanly and never reuses a retired id.
	f.chunks.setFailWhen(nil)
	res, err := f.svc.StoreResource(ctx, StoreParams{Content: content, FileName: "a.md"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Chunks[0].VectorID)
	assert.Equal(t, int64(4), res.Chunks[1].VectorID)
}

func TestStoreResource_ConcurrentIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chunks.setFailWhen(func(id int64) bool { return id%7 == 0 })

	const n = 30
	var (
		mu        sync.Mutex
		committed []int64
		wg        sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.StoreResource(ctx, StoreParams{Content: fmt.Sprintf("note %d", i), FileName: "n.md"})
			if err != nil {
				assert.Equal(t, apperr.IndexWriteFailed, apperr.KindOf(err))
				return
			}
			mu.Lock()
			committed = append(committed, res.Chunks[0].VectorID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	retired, err := f.store.RetiredVectorIDs(ctx)
	require.NoError(t, err)
	last, err := f.store.LastVectorID(ctx)
	require.NoError(t, err)

	all := append(append([]int64{}, committed...), retired...)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	require.Len(t, all, int(last), "every issued id is either committed or retired")
	for i, id := range all {
		assert.Equal(t, int64(i+1), id, "ids are distinct and gap free apart from retired ones")
	}
	for _, id := range retired {
		assert.Zero(t, id%7, "only injected failures retire ids")
	}
	assert.Equal(t, len(committed), f.chunks.Count())
}

func TestStoreResource_CallerCancelRetiresIDs(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The caller goes away after the index write, before the commit.
	f.chunks.afterInsert = func(int64) { cancel() }

	_, err := f.svc.StoreResource(ctx, StoreParams{Content: "foo bar", FileName: "a.md"})
	require.Error(t, err)

	bg := context.Background()
	ids, _ := f.store.ListResourceIDs(bg, 10)
	assert.Empty(t, ids)
	assert.Equal(t, 0, f.chunks.Count())
	retired, _ := f.store.RetiredVectorIDs(bg)
	assert.Equal(t, []int64{1}, retired)
	last, _ := f.store.LastVectorID(bg)
	assert.Equal(t, int64(1), last, "the counter increment is kept")
}

func TestStoreResource_EmbeddingTimeoutCostsNoIDs(t *testing.T) {
	f := newFixture(t, withEmbedder(embedding.WithTimeout(slowEmbedder{}, 10*time.Millisecond)))

	_, err := f.svc.StoreResource(context.Background(), StoreParams{Content: "foo", FileName: "a.md"})
	require.Error(t, err)
	assert.Equal(t, apperr.CollaboratorTimeout, apperr.KindOf(err))
	assert.True(t, apperr.From(err).Retryable)

	last, _ := f.store.LastVectorID(context.Background())
	assert.Zero(t, last)
}

func TestRetrieve_TiesRankByAscendingVectorID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.svc.StoreResource(ctx, StoreParams{Content: "alpha beta", FileName: fmt.Sprintf("%d.md", i)})
		require.NoError(t, err)
	}
	_, err := f.svc.StoreResource(ctx, StoreParams{Content: "gamma", FileName: "g.md"})
	require.NoError(t, err)

	res, err := f.svc.Retrieve(ctx, RetrieveParams{Query: "alpha beta", Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, int64(1), res.Hits[0].VectorID)
	assert.Equal(t, int64(2), res.Hits[1].VectorID)
	assert.InDelta(t, 1.0, res.Hits[0].Score, 1e-5)
}

func TestRetrieve_EmptyStore(t *testing.T) {
	res, err := newFixture(t).svc.Retrieve(context.Background(), RetrieveParams{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.NotNil(t, res.Hits)
}

func TestPack(t *testing.T) {
	hits := []ChunkHit{
		{VectorID: 1, Text: strings.Repeat("a", 50)},
		{VectorID: 2, Text: strings.Repeat("b", 50)},
		{VectorID: 3, Text: strings.Repeat("c", 500)},
		{VectorID: 4, Text: "d"},
	}
	got, used := pack(hits, 250)
	require.Len(t, got, 3)
	assert.True(t, got[2].Excerpt)
	assert.Equal(t, strings.Repeat("c", 150)+"...", got[2].Text)
	assert.Equal(t, 250, used)

	got, used = pack(hits, 120)
	assert.Len(t, got, 2, "under 100 characters left is not worth an excerpt")
	assert.Equal(t, 100, used)
}

func TestGetResource_NotFound(t *testing.T) {
	_, err := newFixture(t).svc.GetResource(context.Background(), "missing")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}
