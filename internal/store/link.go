package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/model"
)

// LinkParams identifies a link and, on create, its optional score.
type LinkParams struct {
	SourceID string
	TargetID string
	Kind     string
	Score    *float64
}

// MirrorFunc propagates a committed link change to an external collaborator.
// It runs after the write transaction commits so a slow collaborator never
// holds the database write lock; an error undoes the committed change.
type MirrorFunc func(ctx context.Context, l model.ContextLink) error

const linkColumns = `id, source_id, target_id, kind, score, created_at`

// CreateLink inserts a link unless one with the same (source, target, kind)
// exists, in which case the existing link is returned with created=false.
// Uniqueness is enforced by the table constraint at write time.
func (s *SQLiteStore) CreateLink(ctx context.Context, p LinkParams, mirror MirrorFunc) (link model.ContextLink, created bool, err error) {
	if err := s.checkWritable(); err != nil {
		return link, false, err
	}
	if p.Kind == "" {
		return link, false, apperr.New(apperr.ParameterMismatch, "link kind is required")
	}
	if p.Score != nil && !(*p.Score >= 0 && *p.Score <= 1) {
		return link, false, apperr.New(apperr.InvalidScore, "score %v outside [0,1]", *p.Score)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return link, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, id := range []string{p.SourceID, p.TargetID} {
		ok, err := resourceExists(ctx, tx, id)
		if err != nil {
			return link, false, err
		}
		if !ok {
			return link, false, apperr.New(apperr.InvalidReference, "resource not found: %s", id)
		}
	}

	now := time.Now().UTC()
	link = model.ContextLink{
		ID:        s.NewID(),
		SourceID:  p.SourceID,
		TargetID:  p.TargetID,
		Kind:      p.Kind,
		Score:     p.Score,
		CreatedAt: now,
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO context_links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_id, target_id, kind) DO NOTHING`,
		link.ID, link.SourceID, link.TargetID, link.Kind, nullFloat(link.Score), formatTime(now))
	if err != nil {
		return link, false, fmt.Errorf("insert link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := scanLink(tx.QueryRowContext(ctx,
			`SELECT `+linkColumns+` FROM context_links WHERE source_id = ? AND target_id = ? AND kind = ?`,
			p.SourceID, p.TargetID, p.Kind))
		if err != nil {
			return link, false, fmt.Errorf("load existing link: %w", err)
		}
		return existing, false, nil
	}

	if err := tx.Commit(); err != nil {
		return model.ContextLink{}, false, fmt.Errorf("commit link: %w", err)
	}

	if mirror != nil {
		if err := mirror(ctx, link); err != nil {
			if _, derr := s.db.ExecContext(context.WithoutCancel(ctx), `DELETE FROM context_links WHERE id = ?`, link.ID); derr != nil {
				s.log.Error("undo link after mirror failure", zap.String("link_id", link.ID), zap.Error(derr))
			}
			return model.ContextLink{}, false, err
		}
	}
	return link, true, nil
}

// RemoveLink deletes the link matching p. found is false when none existed.
func (s *SQLiteStore) RemoveLink(ctx context.Context, p LinkParams, mirror MirrorFunc) (link model.ContextLink, found bool, err error) {
	if err := s.checkWritable(); err != nil {
		return link, false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return link, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	link, err = scanLink(tx.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM context_links WHERE source_id = ? AND target_id = ? AND kind = ?`,
		p.SourceID, p.TargetID, p.Kind))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContextLink{}, false, nil
	}
	if err != nil {
		return link, false, fmt.Errorf("load link: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM context_links WHERE id = ?`, link.ID); err != nil {
		return link, false, fmt.Errorf("delete link: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.ContextLink{}, false, fmt.Errorf("commit link removal: %w", err)
	}

	if mirror != nil {
		if err := mirror(ctx, link); err != nil {
			_, rerr := s.db.ExecContext(context.WithoutCancel(ctx),
				`INSERT INTO context_links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT DO NOTHING`,
				link.ID, link.SourceID, link.TargetID, link.Kind, nullFloat(link.Score), formatTime(link.CreatedAt))
			if rerr != nil {
				s.log.Error("restore link after mirror failure", zap.String("link_id", link.ID), zap.Error(rerr))
			}
			return model.ContextLink{}, false, err
		}
	}
	return link, true, nil
}

// LinksFor returns the links touching entityID in creation order. The
// sequence is lazy (nothing is read until it is ranged over), finite, and
// restartable: each range runs a fresh query.
func (s *SQLiteStore) LinksFor(ctx context.Context, entityID string, dir Direction) iter.Seq2[model.ContextLink, error] {
	return func(yield func(model.ContextLink, error) bool) {
		where, args := "source_id = ? OR target_id = ?", []any{entityID, entityID}
		switch dir {
		case DirectionOut:
			where, args = "source_id = ?", []any{entityID}
		case DirectionIn:
			where, args = "target_id = ?", []any{entityID}
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+linkColumns+` FROM context_links WHERE `+where+` ORDER BY created_at, rowid`, args...)
		if err != nil {
			yield(model.ContextLink{}, fmt.Errorf("links for %s: %w", entityID, err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			l, err := scanLink(rows)
			if !yield(l, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.ContextLink{}, err)
		}
	}
}

// LinksByID loads links by id. Unknown ids are absent from the result.
func (s *SQLiteStore) LinksByID(ctx context.Context, ids []string) (map[string]model.ContextLink, error) {
	out := make(map[string]model.ContextLink, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM context_links WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("links by id: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out[l.ID] = l
	}
	return out, rows.Err()
}

// Traverse walks links in either direction up to depth hops from entityID.
// Each link is reported once, at the smallest hop count it is reached.
func (s *SQLiteStore) Traverse(ctx context.Context, entityID string, depth int) ([]TraversedLink, error) {
	if depth < 1 {
		depth = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE walk(node, depth) AS (
			SELECT ?, 0
			UNION
			SELECT CASE WHEN l.source_id = w.node THEN l.target_id ELSE l.source_id END, w.depth + 1
			FROM context_links l JOIN walk w ON l.source_id = w.node OR l.target_id = w.node
			WHERE w.depth < ?
		)
		SELECT l.id, l.source_id, l.target_id, l.kind, l.score, l.created_at, MIN(w.depth) + 1 AS hop
		FROM context_links l JOIN walk w ON l.source_id = w.node OR l.target_id = w.node
		WHERE w.depth < ?
		GROUP BY l.id
		ORDER BY hop, l.created_at, l.rowid`, entityID, depth, depth)
	if err != nil {
		return nil, fmt.Errorf("traverse %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []TraversedLink
	for rows.Next() {
		var t TraversedLink
		var score sql.NullFloat64
		var createdAt string
		if err := rows.Scan(&t.ID, &t.SourceID, &t.TargetID, &t.Kind, &score, &createdAt, &t.Depth); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(createdAt)
		if score.Valid {
			t.Score = &score.Float64
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LinkStats aggregates the links table directly; nothing is cached.
func (s *SQLiteStore) LinkStats(ctx context.Context) (*LinkStats, error) {
	st := &LinkStats{LinksByKind: map[string]int{}}
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM context_links GROUP BY kind ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("link stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		st.LinksByKind[kind] = n
		st.TotalLinks += n
	}
	return st, rows.Err()
}

func scanLink(row scanner) (model.ContextLink, error) {
	var l model.ContextLink
	var score sql.NullFloat64
	var createdAt string
	if err := row.Scan(&l.ID, &l.SourceID, &l.TargetID, &l.Kind, &score, &createdAt); err != nil {
		return l, err
	}
	l.CreatedAt = parseTime(createdAt)
	if score.Valid {
		l.Score = &score.Float64
	}
	return l, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// NormalizeKind lower-cases and trims a link kind.
func NormalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
