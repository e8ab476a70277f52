package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/model"
)

const patternColumns = `id, function_name, file_name, module_name, prompt, code, verdict,
	execution_time, error_message, tags, created_at, vector_id`

// InsertPattern commits a pattern and its context rows in one transaction. A
// non-nil VectorID must already be allocated and present in the index.
func (s *SQLiteStore) InsertPattern(ctx context.Context, p *model.CodePattern, contexts []model.CodePatternContext) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if !p.Verdict.Valid() {
		return apperr.New(apperr.InvalidVerdict, "verdict %q is not one of pass, fail, partial", p.Verdict)
	}
	if p.ID == "" {
		p.ID = s.NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var vectorID sql.NullInt64
	if p.VectorID != nil {
		vectorID = sql.NullInt64{Int64: *p.VectorID, Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO code_patterns (`+patternColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, nullString(p.FunctionName), nullString(p.FileName), nullString(p.ModuleName),
		p.Prompt, p.Code, string(p.Verdict), p.ExecutionTime, nullString(p.ErrorMessage),
		encodeTags(p.Tags), formatTime(p.CreatedAt), vectorID)
	if err != nil {
		return s.classifyWrite(err, "insert pattern")
	}

	for i := range contexts {
		c := &contexts[i]
		if c.ID == "" {
			c.ID = s.NewID()
		}
		c.PatternID = p.ID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = p.CreatedAt
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO code_pattern_context (id, pattern_id, context_kind, context_id, similarity, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.PatternID, c.ContextKind, c.ContextID, c.Similarity, formatTime(c.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert pattern context: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pattern: %w", err)
	}
	return nil
}

// PatternsByVectorID hydrates patterns for the given vector ids.
func (s *SQLiteStore) PatternsByVectorID(ctx context.Context, vectorIDs []int64) (map[int64]model.CodePattern, error) {
	out := make(map[int64]model.CodePattern, len(vectorIDs))
	if len(vectorIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM code_patterns WHERE vector_id IN (`+placeholders(len(vectorIDs))+`)`,
		int64Args(vectorIDs)...)
	if err != nil {
		return nil, fmt.Errorf("patterns by vector id: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out[*p.VectorID] = p
	}
	return out, rows.Err()
}

// RecentPatterns lists patterns newest first, optionally by verdict.
func (s *SQLiteStore) RecentPatterns(ctx context.Context, limit int, verdict model.Verdict) ([]model.CodePattern, error) {
	if limit <= 0 {
		limit = 10
	}
	where, args := "1 = 1", []any{}
	if verdict != "" {
		where, args = "verdict = ?", append(args, string(verdict))
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM code_patterns WHERE `+where+` ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("recent patterns: %w", err)
	}
	defer rows.Close()
	var out []model.CodePattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PatternContexts returns the context rows of a pattern, most similar first.
func (s *SQLiteStore) PatternContexts(ctx context.Context, patternID string) ([]model.CodePatternContext, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pattern_id, context_kind, context_id, similarity, created_at
		 FROM code_pattern_context WHERE pattern_id = ? ORDER BY similarity DESC, rowid`, patternID)
	if err != nil {
		return nil, fmt.Errorf("pattern contexts: %w", err)
	}
	defer rows.Close()
	var out []model.CodePatternContext
	for rows.Next() {
		var c model.CodePatternContext
		var createdAt string
		if err := rows.Scan(&c.ID, &c.PatternID, &c.ContextKind, &c.ContextID, &c.Similarity, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// AnalyzePatterns aggregates the patterns matching p. Every tag must be
// present; Since keeps patterns created at or after it.
func (s *SQLiteStore) AnalyzePatterns(ctx context.Context, p AnalyzeParams) (*PatternAggregate, error) {
	var where []string
	var args []any
	for _, tag := range p.Tags {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(code_patterns.tags) WHERE value = ?)")
		args = append(args, tag)
	}
	if !p.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(p.Since))
	}
	filter := ""
	if len(where) > 0 {
		filter = "WHERE " + strings.Join(where, " AND ")
	}

	agg := &PatternAggregate{ByVerdict: map[model.Verdict]int{}}
	for _, v := range model.Verdicts {
		agg.ByVerdict[v] = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT verdict, COUNT(*), COALESCE(SUM(execution_time), 0) FROM code_patterns `+filter+` GROUP BY verdict`, args...)
	if err != nil {
		return nil, fmt.Errorf("analyze patterns: %w", err)
	}
	var totalTime float64
	for rows.Next() {
		var v string
		var n int
		var t float64
		if err := rows.Scan(&v, &n, &t); err != nil {
			rows.Close()
			return nil, err
		}
		agg.ByVerdict[model.Verdict(v)] = n
		agg.Count += n
		totalTime += t
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if agg.Count > 0 {
		agg.MeanExecutionTime = totalTime / float64(agg.Count)
	}

	errFilter := "WHERE error_message IS NOT NULL AND error_message != ''"
	if filter != "" {
		errFilter = filter + " AND error_message IS NOT NULL AND error_message != ''"
	}
	erows, err := s.db.QueryContext(ctx,
		`SELECT error_message, COUNT(*) AS n FROM code_patterns `+errFilter+`
		 GROUP BY error_message ORDER BY n DESC, error_message LIMIT 5`, args...)
	if err != nil {
		return nil, fmt.Errorf("analyze errors: %w", err)
	}
	defer erows.Close()
	for erows.Next() {
		var e ErrorCount
		if err := erows.Scan(&e.Message, &e.Count); err != nil {
			return nil, err
		}
		agg.TopErrors = append(agg.TopErrors, e)
	}
	return agg, erows.Err()
}

func scanPattern(row scanner) (model.CodePattern, error) {
	var p model.CodePattern
	var fn, file, module, errMsg, tags sql.NullString
	var verdict, createdAt string
	var vectorID sql.NullInt64
	err := row.Scan(&p.ID, &fn, &file, &module, &p.Prompt, &p.Code, &verdict,
		&p.ExecutionTime, &errMsg, &tags, &createdAt, &vectorID)
	if err != nil {
		return p, err
	}
	p.FunctionName = fn.String
	p.FileName = file.String
	p.ModuleName = module.String
	p.ErrorMessage = errMsg.String
	p.Verdict = model.Verdict(verdict)
	p.CreatedAt = parseTime(createdAt)
	if tags.Valid {
		if err := json.Unmarshal([]byte(tags.String), &p.Tags); err != nil {
			return p, fmt.Errorf("pattern %s tags: %w", p.ID, err)
		}
	}
	if vectorID.Valid {
		v := vectorID.Int64
		p.VectorID = &v
	}
	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
