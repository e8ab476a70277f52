package store

import (
	"context"
	"os"
)

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	// DB file size
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	counts := []struct {
		query string
		dest  any
	}{
		{`SELECT COUNT(*) FROM resources`, &st.Resources},
		{`SELECT COUNT(*) FROM resource_chunks`, &st.Chunks},
		{`SELECT COUNT(*) FROM code_patterns`, &st.Patterns},
		{`SELECT COUNT(*) FROM context_links`, &st.Links},
		{`SELECT COUNT(*) FROM retired_vector_ids`, &st.RetiredVectorIDs},
		{`SELECT last_vector_id FROM vector_id_sequence WHERE id = 1`, &st.LastVectorID},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return st, nil
}
