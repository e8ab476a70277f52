package memory

import (
	"context"
	"iter"
	"math"
	"slices"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/embedding"
	"github.com/rcliao/memoryd/internal/graph"
	"github.com/rcliao/memoryd/internal/model"
	"github.com/rcliao/memoryd/internal/store"
)

// LinkParams describes a link to create or remove.
type LinkParams struct {
	SourceID string
	TargetID string
	Kind     string
	Score    *float64
	Remove   bool
}

// LinkResult reports the outcome of Link.
type LinkResult struct {
	Link           *model.ContextLink `json:"link,omitempty"`
	AlreadyPresent bool               `json:"already_present,omitempty"`
	Removed        bool               `json:"removed,omitempty"`
}

// Link creates (or with Remove, deletes) a link. Creating an existing
// (source, target, kind) link returns it with AlreadyPresent set.
func (s *Service) Link(ctx context.Context, p LinkParams) (*LinkResult, error) {
	kind := store.NormalizeKind(p.Kind)
	if kind == "" {
		kind = model.LinkRelated
	}
	lp := store.LinkParams{SourceID: p.SourceID, TargetID: p.TargetID, Kind: kind, Score: p.Score}

	if p.Remove {
		l, found, err := s.store.RemoveLink(ctx, lp, s.unmirror())
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, apperr.New(apperr.NotFound, "no %s link from %s to %s", kind, p.SourceID, p.TargetID)
		}
		s.log.Info("link removed", zap.String("link_id", l.ID))
		return &LinkResult{Link: &l, Removed: true}, nil
	}

	l, created, err := s.store.CreateLink(ctx, lp, s.mirror())
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("link created", zap.String("link_id", l.ID), zap.String("kind", kind))
	}
	return &LinkResult{Link: &l, AlreadyPresent: !created}, nil
}

func (s *Service) mirror() store.MirrorFunc {
	if s.graph == nil {
		return nil
	}
	return func(ctx context.Context, l model.ContextLink) error {
		return s.graph.CreateRelationship(ctx, graph.Relationship{
			LinkID: l.ID, SourceID: l.SourceID, TargetID: l.TargetID, Kind: l.Kind, Score: l.Score,
		})
	}
}

func (s *Service) unmirror() store.MirrorFunc {
	if s.graph == nil {
		return nil
	}
	return func(ctx context.Context, l model.ContextLink) error {
		return s.graph.DeleteRelationship(ctx, l.ID)
	}
}

// LinksFor returns the lazy, restartable, creation-ordered link sequence for
// an entity.
func (s *Service) LinksFor(ctx context.Context, entityID string, dir store.Direction) (iter.Seq2[model.ContextLink, error], error) {
	if dir == "" {
		dir = store.DirectionBoth
	}
	if !dir.Valid() {
		return nil, apperr.New(apperr.ParameterMismatch, "direction must be out, in or both, got %q", dir)
	}
	missing, err := s.store.MissingResources(ctx, entityID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "resolve entity")
	}
	if len(missing) > 0 {
		return nil, apperr.New(apperr.InvalidReference, "resource not found: %s", entityID)
	}
	return s.store.LinksFor(ctx, entityID, dir), nil
}

// RelationshipsResult lists the links around an entity.
type RelationshipsResult struct {
	ResourceID string                `json:"resource_id"`
	Direction  store.Direction       `json:"direction,omitempty"`
	Depth      int                   `json:"depth"`
	Links      []store.TraversedLink `json:"links"`
}

// Relationships returns the links of an entity. Depth 1 honours direction and
// keeps creation order; deeper walks ignore direction, go through the graph
// collaborator when one is configured, and order by hop count.
func (s *Service) Relationships(ctx context.Context, entityID string, dir store.Direction, depth int) (*RelationshipsResult, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > graph.MaxDepth {
		return nil, apperr.New(apperr.ParameterMismatch, "depth must be between 1 and %d", graph.MaxDepth)
	}
	seq, err := s.LinksFor(ctx, entityID, dir)
	if err != nil {
		return nil, err
	}
	res := &RelationshipsResult{ResourceID: entityID, Depth: depth, Links: []store.TraversedLink{}}

	if depth == 1 {
		res.Direction = dir
		if res.Direction == "" {
			res.Direction = store.DirectionBoth
		}
		for l, err := range seq {
			if err != nil {
				return nil, apperr.Wrap(apperr.Internal, err, "read links")
			}
			res.Links = append(res.Links, store.TraversedLink{ContextLink: l, Depth: 1})
		}
		return res, nil
	}

	if s.graph == nil {
		links, err := s.store.Traverse(ctx, entityID, depth)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "traverse")
		}
		if links != nil {
			res.Links = links
		}
		return res, nil
	}

	edges, err := s.graph.QueryRelationships(ctx, entityID, depth)
	if err != nil {
		if apperr.IsKind(err, apperr.CollaboratorTimeout) || ctx.Err() != nil {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.Internal, err, "graph traversal")
	}
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.LinkID
	}
	rows, err := s.store.LinksByID(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "hydrate links")
	}
	for _, e := range edges {
		// The store is the system of record; graph-only links are skipped.
		if l, ok := rows[e.LinkID]; ok {
			res.Links = append(res.Links, store.TraversedLink{ContextLink: l, Depth: e.Depth})
		}
	}
	sort.SliceStable(res.Links, func(i, j int) bool {
		a, b := res.Links[i], res.Links[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return res, nil
}

// AutoLinkParams configures AutoLink. An empty candidate pool means every
// other stored resource, newest first, up to PoolLimit.
type AutoLinkParams struct {
	ResourceID string
	Candidates []string
	Threshold  float64
	PoolLimit  int
}

// AutoLinked is one qualifying candidate.
type AutoLinked struct {
	LinkID   string  `json:"link_id"`
	TargetID string  `json:"target_id"`
	Score    float64 `json:"score"`
}

// AutoLinkResult lists the created link ids in descending score order and
// the qualifying pairs that were already linked.
type AutoLinkResult struct {
	ResourceID     string       `json:"resource_id"`
	Threshold      float64      `json:"threshold"`
	Evaluated      int          `json:"evaluated"`
	LinkIDs        []string     `json:"link_ids"`
	Created        []AutoLinked `json:"created"`
	AlreadyPresent []AutoLinked `json:"already_present"`
}

// AutoLink links a resource to every candidate whose content similarity is at
// least Threshold, with kind "similar". Calls are idempotent per pair.
func (s *Service) AutoLink(ctx context.Context, p AutoLinkParams) (*AutoLinkResult, error) {
	if p.Threshold < 0 || p.Threshold > 1 || math.IsNaN(p.Threshold) {
		return nil, apperr.New(apperr.ParameterMismatch, "threshold must be in [0,1], got %v", p.Threshold)
	}
	source, err := s.GetResource(ctx, p.ResourceID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, apperr.New(apperr.InvalidReference, "resource not found: %s", p.ResourceID)
		}
		return nil, err
	}

	pool := p.Candidates
	if len(pool) == 0 {
		pool, err = s.store.ListResourceIDs(ctx, p.PoolLimit)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "list candidates")
		}
	}
	pool = slices.DeleteFunc(slices.Compact(slices.Sorted(slices.Values(pool))), func(id string) bool {
		return id == source.ID
	})

	candidates := make([]*model.Resource, len(pool))
	for i, id := range pool {
		r, err := s.GetResource(ctx, id)
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, apperr.New(apperr.InvalidReference, "candidate not found: %s", id)
		}
		if err != nil {
			return nil, err
		}
		candidates[i] = r
	}

	sourceVec, err := s.embed(ctx, source.Content)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, c := range candidates {
		g.Go(func() error {
			vec, err := s.embed(gctx, c.Content)
			if err != nil {
				return err
			}
			scores[i] = embedding.CosineSimilarity(sourceVec, vec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type scored struct {
		id    string
		score float64
	}
	var qualifying []scored
	for i, c := range candidates {
		if scores[i] >= p.Threshold {
			qualifying = append(qualifying, scored{id: c.ID, score: min(scores[i], 1)})
		}
	}
	sort.SliceStable(qualifying, func(i, j int) bool {
		if qualifying[i].score != qualifying[j].score {
			return qualifying[i].score > qualifying[j].score
		}
		return qualifying[i].id < qualifying[j].id
	})

	res := &AutoLinkResult{
		ResourceID:     source.ID,
		Threshold:      p.Threshold,
		Evaluated:      len(candidates),
		LinkIDs:        []string{},
		Created:        []AutoLinked{},
		AlreadyPresent: []AutoLinked{},
	}
	for _, q := range qualifying {
		score := q.score
		l, created, err := s.store.CreateLink(ctx, store.LinkParams{
			SourceID: source.ID, TargetID: q.id, Kind: model.LinkSimilar, Score: &score,
		}, s.mirror())
		if err != nil {
			return nil, err
		}
		item := AutoLinked{LinkID: l.ID, TargetID: q.id, Score: score}
		if created {
			res.LinkIDs = append(res.LinkIDs, l.ID)
			res.Created = append(res.Created, item)
		} else {
			res.AlreadyPresent = append(res.AlreadyPresent, item)
		}
	}

	s.log.Info("auto-link complete",
		zap.String("resource_id", source.ID),
		zap.Int("evaluated", len(candidates)),
		zap.Int("created", len(res.Created)),
		zap.Int("already_present", len(res.AlreadyPresent)))
	return res, nil
}

// UsageStatistics aggregates links directly from the store.
func (s *Service) UsageStatistics(ctx context.Context) (*store.LinkStats, error) {
	st, err := s.store.LinkStats(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "link statistics")
	}
	return st, nil
}
