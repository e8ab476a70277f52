package store

import (
	"context"
	"testing"
	"time"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/model"
)

func TestInsertPattern(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := putResource(t, s, "a.md", "a")

	vid, _ := s.NextVectorID(ctx)
	p := &model.CodePattern{
		FunctionName:  "parse",
		Prompt:        "write a parser",
		Code:          "func parse() {}",
		Verdict:       model.VerdictPass,
		ExecutionTime: 12.5,
		Tags:          []string{"go", "parser"},
		VectorID:      &vid,
	}
	contexts := []model.CodePatternContext{{ContextKind: model.ContextResource, ContextID: r.ID, Similarity: 0.8}}
	if err := s.InsertPattern(ctx, p, contexts); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.PatternsByVectorID(ctx, []int64{vid})
	if err != nil {
		t.Fatal(err)
	}
	gp := got[vid]
	if gp.ID != p.ID || gp.FunctionName != "parse" || len(gp.Tags) != 2 || gp.Verdict != model.VerdictPass {
		t.Errorf("unexpected pattern %+v", gp)
	}

	cs, err := s.PatternContexts(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 1 || cs[0].ContextID != r.ID || cs[0].PatternID != p.ID {
		t.Errorf("unexpected contexts %+v", cs)
	}
}

func TestInsertPattern_InvalidVerdict(t *testing.T) {
	s := newTestStore(t)
	err := s.InsertPattern(context.Background(), &model.CodePattern{Prompt: "p", Code: "c", Verdict: "passed"}, nil)
	if apperr.KindOf(err) != apperr.InvalidVerdict {
		t.Fatalf("expected InvalidVerdict, got %v", err)
	}
}

func TestInsertPattern_VerdictCheckConstraint(t *testing.T) {
	s := newTestStore(t)
	_, err := s.db.Exec(`INSERT INTO code_patterns (id, prompt, code, verdict, created_at) VALUES ('x', 'p', 'c', 'passed', '2024-01-01T00:00:00.000000Z')`)
	if err == nil {
		t.Fatal("expected the verdict CHECK constraint to reject 'passed'")
	}
}

func TestInsertPattern_SharedSequenceCollision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	vid, _ := s.NextVectorID(ctx)
	first := &model.CodePattern{Prompt: "p", Code: "c", Verdict: model.VerdictFail, VectorID: &vid}
	if err := s.InsertPattern(ctx, first, nil); err != nil {
		t.Fatal(err)
	}
	second := &model.CodePattern{Prompt: "p", Code: "c", Verdict: model.VerdictFail, VectorID: &vid}
	if err := s.InsertPattern(ctx, second, nil); apperr.KindOf(err) != apperr.SchemaViolation {
		t.Fatalf("expected SchemaViolation, got %v", err)
	}
}

func TestPatternContextCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := &model.CodePattern{Prompt: "p", Code: "c", Verdict: model.VerdictPartial}
	cs := []model.CodePatternContext{{ContextKind: model.ContextResource, ContextID: "r", Similarity: 0.5}}
	if err := s.InsertPattern(ctx, p, cs); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`DELETE FROM code_patterns WHERE id = ?`, p.ID); err != nil {
		t.Fatal(err)
	}
	left, _ := s.PatternContexts(ctx, p.ID)
	if len(left) != 0 {
		t.Errorf("expected contexts to cascade, %d left", len(left))
	}
}

func TestRecentPatterns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, v := range []model.Verdict{model.VerdictPass, model.VerdictFail, model.VerdictPass} {
		if err := s.InsertPattern(ctx, &model.CodePattern{Prompt: string(v), Code: "c", Verdict: v}, nil); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.RecentPatterns(ctx, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Verdict != model.VerdictPass || all[1].Verdict != model.VerdictFail {
		t.Errorf("expected newest first, got %+v", all)
	}
	fails, _ := s.RecentPatterns(ctx, 10, model.VerdictFail)
	if len(fails) != 1 {
		t.Errorf("expected 1 fail, got %d", len(fails))
	}
}

func TestAnalyzePatterns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour).UTC()
	rows := []model.CodePattern{
		{Prompt: "a", Code: "c", Verdict: model.VerdictPass, ExecutionTime: 10, Tags: []string{"go"}},
		{Prompt: "b", Code: "c", Verdict: model.VerdictFail, ExecutionTime: 30, Tags: []string{"go"}, ErrorMessage: "nil pointer"},
		{Prompt: "c", Code: "c", Verdict: model.VerdictFail, ExecutionTime: 20, Tags: []string{"go", "sql"}, ErrorMessage: "nil pointer"},
		{Prompt: "d", Code: "c", Verdict: model.VerdictPartial, ExecutionTime: 100, Tags: []string{"py"}, CreatedAt: old},
	}
	for i := range rows {
		if err := s.InsertPattern(ctx, &rows[i], nil); err != nil {
			t.Fatal(err)
		}
	}

	agg, err := s.AnalyzePatterns(ctx, AnalyzeParams{})
	if err != nil {
		t.Fatal(err)
	}
	if agg.Count != 4 || agg.MeanExecutionTime != 40 {
		t.Errorf("unfiltered: unexpected %+v", agg)
	}

	agg, _ = s.AnalyzePatterns(ctx, AnalyzeParams{Tags: []string{"go"}})
	if agg.Count != 3 || agg.ByVerdict[model.VerdictFail] != 2 || agg.ByVerdict[model.VerdictPartial] != 0 {
		t.Errorf("tag go: unexpected %+v", agg)
	}
	if len(agg.TopErrors) != 1 || agg.TopErrors[0].Count != 2 {
		t.Errorf("tag go: unexpected top errors %+v", agg.TopErrors)
	}

	agg, _ = s.AnalyzePatterns(ctx, AnalyzeParams{Since: time.Now().Add(-24 * time.Hour)})
	if agg.Count != 3 {
		t.Errorf("window: expected 3, got %d", agg.Count)
	}

	agg, _ = s.AnalyzePatterns(ctx, AnalyzeParams{Tags: []string{"rust"}})
	if agg.Count != 0 || agg.MeanExecutionTime != 0 {
		t.Errorf("empty: unexpected %+v", agg)
	}
}

func TestAnalyzePatterns_TagsMatchExactly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, tag := range []string{"go", "GO", "a_c", "abc"} {
		p := &model.CodePattern{Prompt: tag, Code: "c", Verdict: model.VerdictPass, Tags: []string{tag}}
		if err := s.InsertPattern(ctx, p, nil); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		tag  string
		want int
	}{
		{"go", 1},
		{"GO", 1},
		{"a_c", 1},
		{"%", 0},
		{"_", 0},
		{"g", 0},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			agg, err := s.AnalyzePatterns(ctx, AnalyzeParams{Tags: []string{tt.tag}})
			if err != nil {
				t.Fatal(err)
			}
			if agg.Count != tt.want {
				t.Errorf("tag %q matched %d patterns, want %d", tt.tag, agg.Count, tt.want)
			}
		})
	}
}

func TestRecentPatterns_CorruptTags(t *testing.T) {
	s := newTestStore(t)
	_, err := s.db.Exec(`INSERT INTO code_patterns (id, prompt, code, verdict, tags, created_at)
		VALUES ('x', 'p', 'c', 'pass', '["go"', '2024-01-01T00:00:00.000000Z')`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecentPatterns(context.Background(), 10, ""); err == nil {
		t.Fatal("expected an error for malformed tags")
	}
}
