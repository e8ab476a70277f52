package memory

import (
	"context"

	"go.uber.org/zap"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/vectorindex"
)

// entry is one vector waiting for an id and an index slot.
type entry struct {
	vec  []float32
	meta map[string]string
}

// indexEntries runs the first two steps of allocate, index, commit: for each
// entry it takes a fresh id from the allocator and inserts the vector under
// it. The allocator lock is released before the index write.
//
// On failure every id taken so far is retired and every entry already
// inserted is removed, so the caller has nothing to undo. An index rejection
// is IndexWriteFailed; a caller cancellation is returned as is.
func (s *Service) indexEntries(ctx context.Context, idx vectorindex.Index, entries []entry) ([]int64, error) {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		id, err := s.store.NextVectorID(ctx)
		if err != nil {
			s.abandon(ctx, idx, ids, "allocation failed for a sibling entry")
			return nil, err
		}

		if err := idx.Insert(ctx, id, e.vec, e.meta); err != nil {
			// The failed insert may have landed; delete it along with the rest.
			s.abandon(ctx, idx, append(ids, id), "index write failed")
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperr.Wrap(apperr.IndexWriteFailed, err, "vector id %d was retired", id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// abandon compensates for ids whose rows will never be committed: index
// entries are deleted best effort and the ids retired. It runs detached from
// ctx so a canceled caller still leaves no orphans behind.
func (s *Service) abandon(ctx context.Context, idx vectorindex.Index, ids []int64, reason string) {
	if len(ids) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := idx.Delete(ctx, ids...); err != nil {
		s.log.Warn("remove abandoned index entries", zap.Int64s("vector_ids", ids), zap.Error(err))
	}
	for _, id := range ids {
		_ = s.store.RetireVectorID(ctx, id, reason)
	}
	s.log.Info("vector ids retired", zap.Int64s("vector_ids", ids), zap.String("reason", reason))
}
