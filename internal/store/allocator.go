package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memoryd/internal/apperr"
)

// NextVectorID issues the next vector id from the durable sequence row. The
// increment commits before the id is returned; if it does not commit, no id
// is handed out and the error is AllocationUnavailable.
//
// The counter is the only source of next ids. Index sizes and chunk tables
// are never consulted, since retired ids leave holes in both.
func (s *SQLiteStore) NextVectorID(ctx context.Context) (int64, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}

	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Wrap(apperr.AllocationUnavailable, err, "begin allocation")
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`UPDATE vector_id_sequence SET last_vector_id = last_vector_id + 1 WHERE id = 1 RETURNING last_vector_id`).
		Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.AllocationUnavailable, err, "increment vector id sequence")
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Wrap(apperr.AllocationUnavailable, err, "commit vector id sequence")
	}
	return id, nil
}

// RetireVectorID records that id was issued but will never back a row. The
// counter is untouched, so the id is never issued again. Retiring runs even
// when ctx is already canceled, because it compensates for work the caller
// abandoned.
func (s *SQLiteStore) RetireVectorID(ctx context.Context, id int64, reason string) error {
	ctx = context.WithoutCancel(ctx)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO retired_vector_ids (vector_id, reason, retired_at) VALUES (?, ?, ?)`,
		id, reason, formatTime(time.Now()))
	if err != nil {
		s.log.Error("retire vector id", zap.Int64("vector_id", id), zap.Error(err))
		return err
	}
	s.log.Debug("vector id retired", zap.Int64("vector_id", id), zap.String("reason", reason))
	return nil
}

// LastVectorID returns the last issued vector id (0 before any issuance).
func (s *SQLiteStore) LastVectorID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT last_vector_id FROM vector_id_sequence WHERE id = 1`).Scan(&id)
	if err != nil {
		return 0, apperr.Wrap(apperr.AllocationUnavailable, err, "read vector id sequence")
	}
	return id, nil
}

// RetiredVectorIDs returns every retired id in ascending order.
func (s *SQLiteStore) RetiredVectorIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT vector_id FROM retired_vector_ids ORDER BY vector_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
