// Package model defines the core memory data types.
package model

import "time"

// Resource is a stored text artifact. Content is immutable once chunked; a new
// version is a new resource.
type Resource struct {
	ID           string          `json:"id"`
	FileName     string          `json:"file_name"`
	ResourceType string          `json:"resource_type"`
	Content      string          `json:"content"`
	CreatedAt    time.Time       `json:"created_at"`
	Chunks       []ResourceChunk `json:"chunks,omitempty"`
}

// ResourceChunk is the unit of a resource that is indexed for search.
// VectorID is issued only by the allocator and keys the vector index entry.
type ResourceChunk struct {
	ID         string `json:"id"`
	ResourceID string `json:"resource_id"`
	Seq        int    `json:"seq"`
	Text       string `json:"text"`
	VectorID   int64  `json:"vector_id"`
	StartLine  int    `json:"start_line,omitempty"`
	EndLine    int    `json:"end_line,omitempty"`
}

// ContextLink is a directed relationship between two resources.
type ContextLink struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Kind      string    `json:"kind"`
	Score     *float64  `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Verdict is the outcome of a recorded code-generation attempt.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictPartial Verdict = "partial"
)

// Verdicts lists the allowed verdicts in reporting order.
var Verdicts = []Verdict{VerdictPass, VerdictFail, VerdictPartial}

// Valid reports whether v is one of the three allowed verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictPass, VerdictFail, VerdictPartial:
		return true
	}
	return false
}

// CodePattern is one recorded generation attempt.
type CodePattern struct {
	ID            string    `json:"id"`
	FunctionName  string    `json:"function_name,omitempty"`
	FileName      string    `json:"file_name,omitempty"`
	ModuleName    string    `json:"module_name,omitempty"`
	Prompt        string    `json:"prompt"`
	Code          string    `json:"code"`
	Verdict       Verdict   `json:"verdict"`
	ExecutionTime float64   `json:"execution_time"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	VectorID      *int64    `json:"vector_id,omitempty"`
}

// Context kinds for CodePatternContext rows.
const (
	ContextResource = "resource"
	ContextLinkKind = "link"
)

// CodePatternContext associates a pattern with a resource or link it was
// found similar to. Rows are removed only by cascade with their pattern.
type CodePatternContext struct {
	ID          string    `json:"id"`
	PatternID   string    `json:"pattern_id"`
	ContextKind string    `json:"context_kind"`
	ContextID   string    `json:"context_id"`
	Similarity  float64   `json:"similarity"`
	CreatedAt   time.Time `json:"created_at"`
}

// Link kinds. Kinds are free-form; these are the ones memoryd creates itself.
const (
	LinkSimilar = "similar"
	LinkRelated = "related"
)
