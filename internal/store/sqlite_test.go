package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// putResource stores a resource whose chunks take fresh vector ids.
func putResource(t *testing.T, s *SQLiteStore, fileName string, texts ...string) *model.Resource {
	t.Helper()
	ctx := context.Background()
	r := &model.Resource{FileName: fileName, Content: fileName}
	for i, text := range texts {
		id, err := s.NextVectorID(ctx)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		r.Chunks = append(r.Chunks, model.ResourceChunk{Seq: i, Text: text, VectorID: id})
	}
	if err := s.InsertResource(ctx, r); err != nil {
		t.Fatalf("insert resource: %v", err)
	}
	return r
}

func TestInsertAndGetResource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r := putResource(t, s, "notes.md", "first chunk", "second chunk")
	if r.ID == "" || r.ResourceType != "text" {
		t.Fatalf("expected id and default type, got %+v", r)
	}

	got, err := s.GetResource(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FileName != "notes.md" {
		t.Errorf("expected notes.md, got %q", got.FileName)
	}
	if len(got.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got.Chunks))
	}
	if got.Chunks[0].Text != "first chunk" || got.Chunks[1].VectorID != 2 {
		t.Errorf("unexpected chunks: %+v", got.Chunks)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected created_at to round-trip")
	}
}

func TestGetResource_NotFound(t *testing.T) {
	_, err := newTestStore(t).GetResource(context.Background(), "nope")
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDuplicateVectorIDHaltsWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	putResource(t, s, "a.md", "a")

	dup := &model.Resource{FileName: "b.md", Content: "b", Chunks: []model.ResourceChunk{{Text: "b", VectorID: 1}}}
	err := s.InsertResource(ctx, dup)
	if apperr.KindOf(err) != apperr.SchemaViolation {
		t.Fatalf("expected SchemaViolation, got %v", err)
	}
	if s.Halted() == nil {
		t.Fatal("expected store to be halted")
	}
	if _, err := s.NextVectorID(ctx); !apperr.IsKind(err, apperr.SchemaViolation) {
		t.Errorf("expected allocation to be refused after halt, got %v", err)
	}
	// The failed resource row must not have survived the rollback.
	ids, _ := s.ListResourceIDs(ctx, 10)
	if len(ids) != 1 {
		t.Errorf("expected 1 resource, got %d", len(ids))
	}
}

func TestChunksByVectorID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := putResource(t, s, "a.md", "one", "two", "three")

	got, err := s.ChunksByVectorID(ctx, []int64{3, 1, 99})
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[3].Text != "three" || got[1].ResourceID != r.ID {
		t.Errorf("unexpected hydration: %+v", got)
	}
}

func TestMissingResources(t *testing.T) {
	s := newTestStore(t)
	r := putResource(t, s, "a.md", "x")
	missing, err := s.MissingResources(context.Background(), r.ID, "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 1 || missing[0] != "ghost" {
		t.Errorf("expected [ghost], got %v", missing)
	}
}

func TestReopenKeepsSequence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seq.db")

	s, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.NextVectorID(ctx); err != nil {
			t.Fatal(err)
		}
	}
	s.Close()

	s, err = NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	id, err := s.NextVectorID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != 4 {
		t.Errorf("expected 4 after reopen, got %d", id)
	}
}

func TestDBPathCreation(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "test.db")
	s, err := NewSQLiteStore(dbPath, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("db file should exist")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	putResource(t, s, "a.md", "x", "y")
	if err := s.RetireVectorID(ctx, 9, "test"); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Resources != 1 || st.Chunks != 2 || st.LastVectorID != 2 || st.RetiredVectorIDs != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if st.DBPath != s.Path() {
		t.Errorf("expected db path %q, got %q", s.Path(), st.DBPath)
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"7d", 7 * 24 * time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"30m", 30 * time.Minute, false},
		{"60s", time.Minute, false},
		{"1w", 0, true},
		{"", 0, true},
		{"h", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseWindow(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseWindow(%q) err = %v, want error %v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseWindow(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
