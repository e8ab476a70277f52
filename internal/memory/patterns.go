package memory

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/model"
	"github.com/rcliao/memoryd/internal/store"
	"github.com/rcliao/memoryd/internal/vectorindex"
)

// AttemptParams describes one code-generation attempt. Embed nil means true.
type AttemptParams struct {
	Prompt        string
	Code          string
	Verdict       model.Verdict
	FunctionName  string
	FileName      string
	ModuleName    string
	ExecutionTime float64
	ErrorMessage  string
	Tags          []string
	Embed         *bool
}

// AttemptResult reports a logged attempt.
type AttemptResult struct {
	PatternID string                     `json:"pattern_id"`
	Verdict   model.Verdict              `json:"verdict"`
	VectorID  *int64                     `json:"vector_id,omitempty"`
	Context   []model.CodePatternContext `json:"context,omitempty"`
}

// LogAttempt records an attempt. When embedded, prompt and code are indexed
// under a fresh vector id with the same allocate, index, commit discipline as
// resource chunks, and the most similar stored resources are recorded as the
// attempt's context.
func (s *Service) LogAttempt(ctx context.Context, p AttemptParams) (*AttemptResult, error) {
	if !p.Verdict.Valid() {
		return nil, apperr.New(apperr.InvalidVerdict, "verdict %q is not one of pass, fail, partial", p.Verdict)
	}
	if p.ExecutionTime < 0 || math.IsNaN(p.ExecutionTime) {
		return nil, apperr.New(apperr.ParameterMismatch, "execution_time must be non-negative")
	}

	pattern := &model.CodePattern{
		FunctionName:  p.FunctionName,
		FileName:      p.FileName,
		ModuleName:    p.ModuleName,
		Prompt:        p.Prompt,
		Code:          p.Code,
		Verdict:       p.Verdict,
		ExecutionTime: p.ExecutionTime,
		ErrorMessage:  p.ErrorMessage,
		Tags:          p.Tags,
	}

	if p.Embed != nil && !*p.Embed {
		if err := s.store.InsertPattern(ctx, pattern, nil); err != nil {
			return nil, err
		}
		s.log.Info("attempt logged", zap.String("pattern_id", pattern.ID), zap.String("verdict", string(p.Verdict)))
		return &AttemptResult{PatternID: pattern.ID, Verdict: p.Verdict}, nil
	}

	vec, err := s.embed(ctx, p.Prompt+"\n"+p.Code)
	if err != nil {
		return nil, err
	}
	contexts, err := s.discoverContext(ctx, vec)
	if err != nil {
		return nil, err
	}

	ids, err := s.indexEntries(ctx, s.patterns, []entry{{vec: vec, meta: map[string]string{"verdict": string(p.Verdict)}}})
	if err != nil {
		return nil, err
	}
	pattern.VectorID = &ids[0]
	if err := s.store.InsertPattern(ctx, pattern, contexts); err != nil {
		s.abandon(ctx, s.patterns, ids, "pattern commit failed")
		return nil, err
	}

	s.log.Info("attempt logged",
		zap.String("pattern_id", pattern.ID),
		zap.String("verdict", string(p.Verdict)),
		zap.Int64("vector_id", ids[0]),
		zap.Int("context", len(contexts)))
	return &AttemptResult{PatternID: pattern.ID, Verdict: p.Verdict, VectorID: pattern.VectorID, Context: contexts}, nil
}

// discoverContext finds stored resources whose chunks resemble vec, keeping
// each resource once at its best chunk score.
func (s *Service) discoverContext(ctx context.Context, vec []float32) ([]model.CodePatternContext, error) {
	hits, err := s.SearchByEmbedding(ctx, vec, s.contextLimit*2)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []model.CodePatternContext
	for _, h := range hits {
		if h.Score < s.contextThreshold || seen[h.ResourceID] {
			continue
		}
		seen[h.ResourceID] = true
		out = append(out, model.CodePatternContext{
			ContextKind: model.ContextResource,
			ContextID:   h.ResourceID,
			Similarity:  h.Score,
		})
		if len(out) == s.contextLimit {
			break
		}
	}
	return out, nil
}

// ScoredPattern is a pattern ranked by similarity.
type ScoredPattern struct {
	model.CodePattern
	Score float64 `json:"score"`
}

// PatternsResult lists patterns, ranked when a query was given and newest
// first otherwise.
type PatternsResult struct {
	Query    string          `json:"query,omitempty"`
	Verdict  model.Verdict   `json:"verdict,omitempty"`
	Patterns []ScoredPattern `json:"patterns"`
}

// FindSimilar ranks recorded attempts by similarity to query. The verdict
// filter is applied by the index before ranking, so k results of the
// requested verdict come back when that many exist.
func (s *Service) FindSimilar(ctx context.Context, query string, k int, verdict model.Verdict) (*PatternsResult, error) {
	if verdict != "" && !verdict.Valid() {
		return nil, apperr.New(apperr.InvalidVerdict, "verdict %q is not one of pass, fail, partial", verdict)
	}
	if k <= 0 {
		k = 5
	}
	res := &PatternsResult{Query: query, Verdict: verdict, Patterns: []ScoredPattern{}}

	if strings.TrimSpace(query) == "" {
		recent, err := s.store.RecentPatterns(ctx, k, verdict)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "recent patterns")
		}
		for _, p := range recent {
			res.Patterns = append(res.Patterns, ScoredPattern{CodePattern: p})
		}
		return res, nil
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	var filter map[string]string
	if verdict != "" {
		filter = map[string]string{"verdict": string(verdict)}
	}
	hits, err := s.patterns.Search(ctx, vec, k, filter)
	if err != nil {
		if apperr.IsKind(err, apperr.CollaboratorTimeout) || ctx.Err() != nil {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.Internal, err, "pattern search")
	}
	vectorindex.SortHits(hits)

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.VectorID
	}
	rows, err := s.store.PatternsByVectorID(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "hydrate patterns")
	}
	for _, h := range hits {
		if p, ok := rows[h.VectorID]; ok {
			res.Patterns = append(res.Patterns, ScoredPattern{CodePattern: p, Score: h.Score})
		}
	}
	return res, nil
}

// Analysis summarizes recorded attempts. Rates and the mean are omitted and
// InsufficientData set when no attempt matches the filter.
type Analysis struct {
	Count             int                   `json:"count"`
	InsufficientData  bool                  `json:"insufficient_data,omitempty"`
	Message           string                `json:"message,omitempty"`
	PassRate          *float64              `json:"pass_rate,omitempty"`
	FailRate          *float64              `json:"fail_rate,omitempty"`
	PartialRate       *float64              `json:"partial_rate,omitempty"`
	MeanExecutionTime *float64              `json:"mean_execution_time,omitempty"`
	ByVerdict         map[model.Verdict]int `json:"by_verdict"`
	TopErrors         []store.ErrorCount    `json:"top_errors,omitempty"`
	Tags              []string              `json:"tags,omitempty"`
	Window            string                `json:"window,omitempty"`
}

// Analyze aggregates attempts filtered by tags (all must match) and a window
// such as "7d" counted back from now.
func (s *Service) Analyze(ctx context.Context, tags []string, window string) (*Analysis, error) {
	params := store.AnalyzeParams{Tags: tags}
	if window != "" {
		d, err := store.ParseWindow(window)
		if err != nil {
			return nil, apperr.Wrap(apperr.ParameterMismatch, err, "window")
		}
		params.Since = time.Now().Add(-d)
	}
	agg, err := s.store.AnalyzePatterns(ctx, params)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "analyze patterns")
	}

	a := &Analysis{
		Count:     agg.Count,
		ByVerdict: agg.ByVerdict,
		TopErrors: agg.TopErrors,
		Tags:      tags,
		Window:    window,
	}
	if agg.Count == 0 {
		a.InsufficientData = true
		a.Message = "insufficient data: no attempts match the filter"
		return a, nil
	}
	n := float64(agg.Count)
	rate := func(v model.Verdict) *float64 {
		r := float64(agg.ByVerdict[v]) / n
		return &r
	}
	a.PassRate = rate(model.VerdictPass)
	a.FailRate = rate(model.VerdictFail)
	a.PartialRate = rate(model.VerdictPartial)
	mean := agg.MeanExecutionTime
	a.MeanExecutionTime = &mean
	return a, nil
}
