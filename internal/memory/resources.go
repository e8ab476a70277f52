package memory

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/chunker"
	"github.com/rcliao/memoryd/internal/model"
	"github.com/rcliao/memoryd/internal/vectorindex"
)

// StoreParams describes a resource to store.
type StoreParams struct {
	Content      string
	FileName     string
	ResourceType string
}

// StoredChunk reports where one chunk landed.
type StoredChunk struct {
	ChunkID  string `json:"chunk_id"`
	Seq      int    `json:"seq"`
	VectorID int64  `json:"vector_id"`
}

// StoreResult is the outcome of StoreResource.
type StoreResult struct {
	ResourceID string        `json:"resource_id"`
	FileName   string        `json:"file_name"`
	Chunks     []StoredChunk `json:"chunks"`
}

// StoreResource chunks, embeds, indexes and commits a resource. Embedding
// happens before any id is allocated, so embedding failures cost no ids.
func (s *Service) StoreResource(ctx context.Context, p StoreParams) (*StoreResult, error) {
	pieces := chunker.Split(p.Content, s.chunking)
	if len(pieces) == 0 {
		return nil, apperr.New(apperr.ParameterMismatch, "content is empty")
	}

	entries := make([]entry, len(pieces))
	for i, piece := range pieces {
		vec, err := s.embed(ctx, piece.Text)
		if err != nil {
			return nil, err
		}
		entries[i] = entry{vec: vec, meta: map[string]string{"file_name": p.FileName}}
	}

	ids, err := s.indexEntries(ctx, s.chunks, entries)
	if err != nil {
		return nil, err
	}

	res := &model.Resource{
		FileName:     p.FileName,
		ResourceType: p.ResourceType,
		Content:      p.Content,
	}
	for i, piece := range pieces {
		res.Chunks = append(res.Chunks, model.ResourceChunk{
			Seq:       piece.Seq,
			Text:      piece.Text,
			VectorID:  ids[i],
			StartLine: piece.StartLine,
			EndLine:   piece.EndLine,
		})
	}
	if err := s.store.InsertResource(ctx, res); err != nil {
		s.abandon(ctx, s.chunks, ids, "resource commit failed")
		return nil, err
	}

	s.log.Info("resource stored",
		zap.String("resource_id", res.ID),
		zap.String("file_name", res.FileName),
		zap.Int("chunks", len(res.Chunks)),
		zap.Int64s("vector_ids", ids))

	out := &StoreResult{ResourceID: res.ID, FileName: res.FileName}
	for _, c := range res.Chunks {
		out.Chunks = append(out.Chunks, StoredChunk{ChunkID: c.ID, Seq: c.Seq, VectorID: c.VectorID})
	}
	return out, nil
}

// GetResource returns a resource with its chunks. Resources never change
// after commit, so cached copies cannot go stale.
func (s *Service) GetResource(ctx context.Context, id string) (*model.Resource, error) {
	key := "res:" + id
	if v, ok := s.cache.Get(key); ok {
		if r, ok := v.(*model.Resource); ok {
			return r, nil
		}
	}
	r, err := s.store.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, r, int64(len(r.Content)+64))
	return r, nil
}

// ChunkHit is one ranked search result.
type ChunkHit struct {
	ResourceID string  `json:"resource_id"`
	ChunkID    string  `json:"chunk_id"`
	VectorID   int64   `json:"vector_id"`
	Seq        int     `json:"seq"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Excerpt    bool    `json:"excerpt,omitempty"`
}

// RetrieveParams configures Retrieve. Budget > 0 packs hits into that many
// characters.
type RetrieveParams struct {
	Query  string
	Limit  int
	Budget int
}

// RetrieveResult holds ranked hits.
type RetrieveResult struct {
	Query  string     `json:"query"`
	Hits   []ChunkHit `json:"hits"`
	Budget int        `json:"budget,omitempty"`
	Used   int        `json:"used,omitempty"`
}

// SearchByEmbedding ranks chunks by similarity to vec: descending score,
// ties by ascending vector id.
func (s *Service) SearchByEmbedding(ctx context.Context, vec []float32, k int) ([]ChunkHit, error) {
	hits, err := s.chunks.Search(ctx, vec, k, nil)
	if err != nil {
		if apperr.IsKind(err, apperr.CollaboratorTimeout) || ctx.Err() != nil {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.Internal, err, "vector search")
	}
	vectorindex.SortHits(hits)

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.VectorID
	}
	rows, err := s.store.ChunksByVectorID(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "hydrate chunks")
	}

	out := make([]ChunkHit, 0, len(hits))
	for _, h := range hits {
		c, ok := rows[h.VectorID]
		if !ok {
			s.log.Warn("index entry without chunk row", zap.Int64("vector_id", h.VectorID))
			continue
		}
		out = append(out, ChunkHit{
			ResourceID: c.ResourceID,
			ChunkID:    c.ID,
			VectorID:   c.VectorID,
			Seq:        c.Seq,
			Text:       c.Text,
			Score:      h.Score,
		})
	}
	return out, nil
}

// Retrieve embeds the query and returns the most similar chunks.
func (s *Service) Retrieve(ctx context.Context, p RetrieveParams) (*RetrieveResult, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, apperr.New(apperr.ParameterMismatch, "query is empty")
	}
	if p.Limit <= 0 {
		p.Limit = 5
	}
	vec, err := s.embed(ctx, p.Query)
	if err != nil {
		return nil, err
	}
	hits, err := s.SearchByEmbedding(ctx, vec, p.Limit)
	if err != nil {
		return nil, err
	}

	res := &RetrieveResult{Query: p.Query, Hits: hits}
	if p.Budget > 0 {
		res.Hits, res.Used = pack(hits, p.Budget)
		res.Budget = p.Budget
	}
	if res.Hits == nil {
		res.Hits = []ChunkHit{}
	}
	return res, nil
}

// pack keeps hits in rank order while they fit in budget characters. The
// first hit that does not fit is excerpted when at least 100 characters
// remain, and packing stops there.
func pack(hits []ChunkHit, budget int) ([]ChunkHit, int) {
	var out []ChunkHit
	used := 0
	for _, h := range hits {
		n := utf8.RuneCountInString(h.Text)
		if used+n <= budget {
			out = append(out, h)
			used += n
			continue
		}
		if remaining := budget - used; remaining >= 100 {
			h.Text = string([]rune(h.Text)[:remaining]) + "..."
			h.Excerpt = true
			out = append(out, h)
			used += remaining
		}
		break
	}
	return out, used
}
