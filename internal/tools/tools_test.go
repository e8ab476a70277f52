package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memoryd/internal/apperr"
	"github.com/rcliao/memoryd/internal/dispatch"
	"github.com/rcliao/memoryd/internal/embedding"
	"github.com/rcliao/memoryd/internal/memory"
	"github.com/rcliao/memoryd/internal/model"
	"github.com/rcliao/memoryd/internal/store"
	"github.com/rcliao/memoryd/internal/vectorindex"
)

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	db, err := vectorindex.OpenDB("")
	require.NoError(t, err)
	chunks, err := db.Collection("chunks")
	require.NoError(t, err)
	patterns, err := db.Collection("patterns")
	require.NoError(t, err)

	svc, err := memory.New(st, memory.Options{
		Embedder: embedding.NewHashEmbedder(0),
		Chunks:   chunks,
		Patterns: patterns,
	})
	require.NoError(t, err)

	d := dispatch.New()
	require.NoError(t, Register(d, svc))
	return d
}

func call(t *testing.T, d *dispatch.Dispatcher, tool string, args map[string]any) any {
	t.Helper()
	env := d.Call(context.Background(), tool, args)
	require.True(t, env.OK, "%s failed: %+v", tool, env.Error)
	return env.Data
}

func failKind(t *testing.T, d *dispatch.Dispatcher, tool string, args map[string]any) apperr.Kind {
	t.Helper()
	env := d.Call(context.Background(), tool, args)
	require.False(t, env.OK, "%s unexpectedly succeeded", tool)
	return env.Error.Kind
}

func TestRegister_DeclaresToolSet(t *testing.T) {
	d := newDispatcher(t)
	var names []string
	for _, s := range d.Specs() {
		names = append(names, s.Name)
		assert.NotEmpty(t, s.Description, s.Name)
		assert.Equal(t, "object", s.InputSchema()["type"])
	}
	assert.Equal(t, []string{
		"store_memory", "retrieve_memory", "get_resource",
		"log_code_attempt", "get_code_patterns", "analyze_code_patterns",
		"link_resources", "auto_link_documents", "get_document_relationships",
		"get_context_usage_statistics", "get_memory_statistics",
	}, names)
}

func TestEndToEnd_AutoLinkSimilarResources(t *testing.T) {
	d := newDispatcher(t)
	a := call(t, d, "store_memory", map[string]any{"content": "foo bar", "file_name": "a.txt"}).(*memory.StoreResult)
	b := call(t, d, "store_memory", map[string]any{"text": "foo baz", "filename": "b.txt"}).(*memory.StoreResult)

	linked := call(t, d, "auto_link_documents", map[string]any{"document_id": a.ResourceID, "threshold": 0.5}).(*memory.AutoLinkResult)
	require.Len(t, linked.Created, 1)
	assert.Equal(t, b.ResourceID, linked.Created[0].TargetID)
	assert.GreaterOrEqual(t, linked.Created[0].Score, 0.5)

	rels := call(t, d, "get_document_relationships", map[string]any{"resource_id": a.ResourceID}).(*memory.RelationshipsResult)
	require.Len(t, rels.Links, 1)
	l := rels.Links[0]
	assert.Equal(t, a.ResourceID, l.SourceID)
	assert.Equal(t, b.ResourceID, l.TargetID)
	assert.Equal(t, model.LinkSimilar, l.Kind)
	require.NotNil(t, l.Score)
	assert.GreaterOrEqual(t, *l.Score, 0.5)

	again := call(t, d, "auto_link_documents", map[string]any{
		"resource_id": a.ResourceID, "candidates": []any{b.ResourceID}, "threshold": 0.5,
	}).(*memory.AutoLinkResult)
	assert.Empty(t, again.Created)
	assert.Len(t, again.AlreadyPresent, 1)

	stats := call(t, d, "get_context_usage_statistics", nil).(*store.LinkStats)
	assert.Equal(t, 1, stats.TotalLinks)
}

func TestAliasResolution_SameResult(t *testing.T) {
	d := newDispatcher(t)
	res := call(t, d, "store_memory", map[string]any{"content": "alias check", "file_name": "x.md"}).(*memory.StoreResult)

	byCanonical := d.Call(context.Background(), "get_resource", map[string]any{"resource_id": res.ResourceID})
	byAlias := d.Call(context.Background(), "get_resource", map[string]any{"document_id": res.ResourceID})
	require.True(t, byCanonical.OK)
	assert.JSONEq(t, string(byCanonical.JSON()), string(byAlias.JSON()))

	assert.Equal(t, apperr.ParameterMismatch, failKind(t, d, "get_resource", map[string]any{}))
	assert.Equal(t, apperr.ParameterMismatch, failKind(t, d, "get_resource", map[string]any{"doc": res.ResourceID}))
	assert.Equal(t, apperr.NotFound, failKind(t, d, "get_resource", map[string]any{"resource_id": "missing"}))
}

func TestLogCodeAttempt_VerdictDomain(t *testing.T) {
	d := newDispatcher(t)
	for _, v := range []string{"pass", "fail", "partial"} {
		res := call(t, d, "log_code_attempt", map[string]any{"prompt": "p", "code": "c", "verdict": v}).(*memory.AttemptResult)
		assert.Equal(t, model.Verdict(v), res.Verdict)
	}
	assert.Equal(t, apperr.InvalidVerdict, failKind(t, d, "log_code_attempt", map[string]any{"prompt": "p", "code": "c", "verdict": "passed"}))
	assert.Equal(t, apperr.ParameterMismatch, failKind(t, d, "log_code_attempt", map[string]any{"prompt": "p", "code": "c"}))

	res := call(t, d, "log_code_attempt", map[string]any{
		"input_prompt": "sum", "generated_code": "a+b", "status": "fail",
		"error": "overflow", "tags": []any{"math"}, "execution_time": 1.5,
	}).(*memory.AttemptResult)
	assert.Equal(t, model.VerdictFail, res.Verdict)

	analysis := call(t, d, "analyze_code_patterns", map[string]any{"tags": []any{"math"}, "since": "1h"}).(*memory.Analysis)
	assert.Equal(t, 1, analysis.Count)
	require.NotNil(t, analysis.FailRate)
	assert.Equal(t, 1.0, *analysis.FailRate)

	patterns := call(t, d, "get_code_patterns", map[string]any{"query": "sum", "verdict_filter": "fail"}).(*memory.PatternsResult)
	require.Len(t, patterns.Patterns, 2)
	assert.Equal(t, res.PatternID, patterns.Patterns[0].ID)
	for _, p := range patterns.Patterns {
		assert.Equal(t, model.VerdictFail, p.Verdict)
	}
}

func TestLinkResources(t *testing.T) {
	d := newDispatcher(t)
	a := call(t, d, "store_memory", map[string]any{"content": "one", "file_name": "1"}).(*memory.StoreResult)
	b := call(t, d, "store_memory", map[string]any{"content": "two", "file_name": "2"}).(*memory.StoreResult)

	created := call(t, d, "link_resources", map[string]any{"from_id": a.ResourceID, "to_id": b.ResourceID, "relation": "cites", "similarity": 0.9}).(*memory.LinkResult)
	assert.False(t, created.AlreadyPresent)
	assert.Equal(t, "cites", created.Link.Kind)

	again := call(t, d, "link_resources", map[string]any{"source_id": a.ResourceID, "target_id": b.ResourceID, "kind": "cites"}).(*memory.LinkResult)
	assert.True(t, again.AlreadyPresent)

	assert.Equal(t, apperr.InvalidScore, failKind(t, d, "link_resources", map[string]any{"source_id": a.ResourceID, "target_id": b.ResourceID, "score": 1.5}))
	assert.Equal(t, apperr.InvalidReference, failKind(t, d, "link_resources", map[string]any{"source_id": a.ResourceID, "target_id": "ghost"}))
	assert.Equal(t, apperr.ParameterMismatch, failKind(t, d, "get_document_relationships", map[string]any{"resource_id": a.ResourceID, "direction": "sideways"}))
	assert.Equal(t, apperr.ParameterMismatch, failKind(t, d, "get_document_relationships", map[string]any{"resource_id": a.ResourceID, "depth": 9}))

	out := call(t, d, "get_document_relationships", map[string]any{"doc_id": b.ResourceID, "direction": "in"}).(*memory.RelationshipsResult)
	require.Len(t, out.Links, 1)

	removed := call(t, d, "link_resources", map[string]any{"source_id": a.ResourceID, "target_id": b.ResourceID, "kind": "cites", "remove": true}).(*memory.LinkResult)
	assert.True(t, removed.Removed)
}

func TestEveryResultIsAnObjectEnvelope(t *testing.T) {
	d := newDispatcher(t)
	res := call(t, d, "store_memory", map[string]any{"content": "envelope", "file_name": "e"}).(*memory.StoreResult)

	calls := map[string]map[string]any{
		"retrieve_memory":              {"query": "envelope", "k": 3},
		"get_resource":                 {"resource_id": res.ResourceID},
		"get_code_patterns":            nil,
		"analyze_code_patterns":        nil,
		"auto_link_documents":          {"resource_id": res.ResourceID},
		"get_document_relationships":   {"resource_id": res.ResourceID, "depth": 2},
		"get_context_usage_statistics": nil,
		"get_memory_statistics":        nil,
	}
	for tool, args := range calls {
		var env map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(d.Call(context.Background(), tool, args).JSON(), &env), tool)
		assert.JSONEq(t, "true", string(env["ok"]), tool)
		assert.Equal(t, byte('{'), env["data"][0], tool)
	}
}
