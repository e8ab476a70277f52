// Package tools declares memoryd's tool set and binds each tool to the
// memory service.
package tools

import (
	"context"

	"github.com/rcliao/memoryd/internal/dispatch"
	"github.com/rcliao/memoryd/internal/memory"
	"github.com/rcliao/memoryd/internal/model"
	"github.com/rcliao/memoryd/internal/store"
)

// DefaultAutoLinkThreshold applies when auto_link_documents gets no
// threshold.
const DefaultAutoLinkThreshold = 0.7

// Register adds every tool to d.
func Register(d *dispatch.Dispatcher, svc *memory.Service) error {
	h := &handlers{svc: svc}
	regs := []func() error{
		func() error { return dispatch.Register(d, storeMemorySpec, h.storeMemory) },
		func() error { return dispatch.Register(d, retrieveMemorySpec, h.retrieveMemory) },
		func() error { return dispatch.Register(d, getResourceSpec, h.getResource) },
		func() error { return dispatch.Register(d, logCodeAttemptSpec, h.logCodeAttempt) },
		func() error { return dispatch.Register(d, getCodePatternsSpec, h.getCodePatterns) },
		func() error { return dispatch.Register(d, analyzeCodePatternsSpec, h.analyzeCodePatterns) },
		func() error { return dispatch.Register(d, linkResourcesSpec, h.linkResources) },
		func() error { return dispatch.Register(d, autoLinkSpec, h.autoLink) },
		func() error { return dispatch.Register(d, relationshipsSpec, h.relationships) },
		func() error { return dispatch.Register(d, usageStatisticsSpec, h.usageStatistics) },
		func() error { return dispatch.Register(d, memoryStatisticsSpec, h.memoryStatistics) },
	}
	for _, reg := range regs {
		if err := reg(); err != nil {
			return err
		}
	}
	return nil
}

type handlers struct {
	svc *memory.Service
}

// --- store_memory ---

var storeMemorySpec = dispatch.Spec{
	Name:        "store_memory",
	Description: "Store a text resource. It is chunked, embedded and indexed for retrieval.",
	Params: []dispatch.Param{
		{Name: "content", Type: dispatch.String, Required: true, Description: "Text to store"},
		{Name: "file_name", Type: dispatch.String, Required: true, Description: "Name the resource is known by"},
		{Name: "resource_type", Type: dispatch.String, Description: "Free-form type such as text, code or note (default text)"},
	},
}

type storeMemoryArgs struct {
	Content      string `mapstructure:"content" validate:"required"`
	FileName     string `mapstructure:"file_name" validate:"required"`
	ResourceType string `mapstructure:"resource_type"`
}

func (h *handlers) storeMemory(ctx context.Context, a storeMemoryArgs) (*memory.StoreResult, error) {
	return h.svc.StoreResource(ctx, memory.StoreParams{
		Content:      a.Content,
		FileName:     a.FileName,
		ResourceType: a.ResourceType,
	})
}

// --- retrieve_memory ---

var retrieveMemorySpec = dispatch.Spec{
	Name:        "retrieve_memory",
	Description: "Find the stored chunks most similar to a query, best first. Equal scores rank by ascending vector id.",
	Params: []dispatch.Param{
		{Name: "query", Type: dispatch.String, Required: true, Description: "Search text"},
		{Name: "limit", Type: dispatch.Integer, Description: "Maximum hits, 1 to 100 (default 5)"},
		{Name: "budget", Type: dispatch.Integer, Description: "Optional character budget; hits are packed in rank order and the last one excerpted"},
	},
}

type retrieveMemoryArgs struct {
	Query  string `mapstructure:"query" validate:"required"`
	Limit  int    `mapstructure:"limit" validate:"omitempty,min=1,max=100"`
	Budget int    `mapstructure:"budget" validate:"min=0"`
}

func (h *handlers) retrieveMemory(ctx context.Context, a retrieveMemoryArgs) (*memory.RetrieveResult, error) {
	return h.svc.Retrieve(ctx, memory.RetrieveParams{Query: a.Query, Limit: a.Limit, Budget: a.Budget})
}

// --- get_resource ---

var getResourceSpec = dispatch.Spec{
	Name:        "get_resource",
	Description: "Fetch a stored resource with its chunks.",
	Params: []dispatch.Param{
		{Name: "resource_id", Type: dispatch.String, Required: true, Description: "Resource id"},
	},
}

type resourceArgs struct {
	ResourceID string `mapstructure:"resource_id" validate:"required"`
}

func (h *handlers) getResource(ctx context.Context, a resourceArgs) (*model.Resource, error) {
	return h.svc.GetResource(ctx, a.ResourceID)
}

// --- log_code_attempt ---

var logCodeAttemptSpec = dispatch.Spec{
	Name:        "log_code_attempt",
	Description: "Record a code-generation attempt and its verdict (pass, fail or partial).",
	Params: []dispatch.Param{
		{Name: "prompt", Type: dispatch.String, Required: true, Description: "Prompt that produced the code"},
		{Name: "code", Type: dispatch.String, Required: true, Description: "Generated code"},
		{Name: "verdict", Type: dispatch.String, Required: true, Description: "pass, fail or partial"},
		{Name: "function_name", Type: dispatch.String, Description: "Function the code implements"},
		{Name: "file_name", Type: dispatch.String, Description: "File the code belongs to"},
		{Name: "module_name", Type: dispatch.String, Description: "Module the code belongs to"},
		{Name: "execution_time", Type: dispatch.Number, Description: "Execution time as measured by the caller"},
		{Name: "error_message", Type: dispatch.String, Description: "Error observed when the attempt did not pass"},
		{Name: "tags", Type: dispatch.StringList, Description: "Tags for later analysis"},
		{Name: "embed", Type: dispatch.Boolean, Description: "Index prompt and code for similarity search (default true)"},
	},
}

type logCodeAttemptArgs struct {
	Prompt        string   `mapstructure:"prompt" validate:"required"`
	Code          string   `mapstructure:"code" validate:"required"`
	Verdict       string   `mapstructure:"verdict"`
	FunctionName  string   `mapstructure:"function_name"`
	FileName      string   `mapstructure:"file_name"`
	ModuleName    string   `mapstructure:"module_name"`
	ExecutionTime float64  `mapstructure:"execution_time" validate:"min=0"`
	ErrorMessage  string   `mapstructure:"error_message"`
	Tags          []string `mapstructure:"tags" validate:"dive,required"`
	Embed         *bool    `mapstructure:"embed"`
}

func (h *handlers) logCodeAttempt(ctx context.Context, a logCodeAttemptArgs) (*memory.AttemptResult, error) {
	return h.svc.LogAttempt(ctx, memory.AttemptParams{
		Prompt:        a.Prompt,
		Code:          a.Code,
		Verdict:       model.Verdict(a.Verdict),
		FunctionName:  a.FunctionName,
		FileName:      a.FileName,
		ModuleName:    a.ModuleName,
		ExecutionTime: a.ExecutionTime,
		ErrorMessage:  a.ErrorMessage,
		Tags:          a.Tags,
		Embed:         a.Embed,
	})
}

// --- get_code_patterns ---

var getCodePatternsSpec = dispatch.Spec{
	Name:        "get_code_patterns",
	Description: "Find recorded attempts similar to a query, optionally only those with a given verdict. Without a query, lists recent attempts.",
	Params: []dispatch.Param{
		{Name: "query", Type: dispatch.String, Description: "Search text"},
		{Name: "limit", Type: dispatch.Integer, Description: "Maximum results, 1 to 100 (default 5)"},
		{Name: "verdict", Type: dispatch.String, Description: "Only attempts with this verdict"},
	},
}

type getCodePatternsArgs struct {
	Query   string `mapstructure:"query"`
	Limit   int    `mapstructure:"limit" validate:"omitempty,min=1,max=100"`
	Verdict string `mapstructure:"verdict"`
}

func (h *handlers) getCodePatterns(ctx context.Context, a getCodePatternsArgs) (*memory.PatternsResult, error) {
	return h.svc.FindSimilar(ctx, a.Query, a.Limit, model.Verdict(a.Verdict))
}

// --- analyze_code_patterns ---

var analyzeCodePatternsSpec = dispatch.Spec{
	Name:        "analyze_code_patterns",
	Description: "Pass, fail and partial rates, count and mean execution time over recorded attempts.",
	Params: []dispatch.Param{
		{Name: "tags", Type: dispatch.StringList, Description: "Only attempts carrying all of these tags"},
		{Name: "window", Type: dispatch.String, Description: "Only attempts this recent, e.g. 30m, 24h, 7d"},
	},
}

type analyzeArgs struct {
	Tags   []string `mapstructure:"tags"`
	Window string   `mapstructure:"window"`
}

func (h *handlers) analyzeCodePatterns(ctx context.Context, a analyzeArgs) (*memory.Analysis, error) {
	return h.svc.Analyze(ctx, a.Tags, a.Window)
}

// --- link_resources ---

var linkResourcesSpec = dispatch.Spec{
	Name:        "link_resources",
	Description: "Create a directed link between two resources, or remove it. Creating an existing link reports it as already present.",
	Params: []dispatch.Param{
		{Name: "source_id", Type: dispatch.String, Required: true, Description: "Source resource id"},
		{Name: "target_id", Type: dispatch.String, Required: true, Description: "Target resource id"},
		{Name: "kind", Type: dispatch.String, Description: "Relationship kind (default related)"},
		{Name: "score", Type: dispatch.Number, Description: "Optional strength in [0,1]"},
		{Name: "remove", Type: dispatch.Boolean, Description: "Remove the link instead of creating it"},
	},
}

type linkArgs struct {
	SourceID string   `mapstructure:"source_id" validate:"required"`
	TargetID string   `mapstructure:"target_id" validate:"required"`
	Kind     string   `mapstructure:"kind"`
	Score    *float64 `mapstructure:"score"`
	Remove   bool     `mapstructure:"remove"`
}

func (h *handlers) linkResources(ctx context.Context, a linkArgs) (*memory.LinkResult, error) {
	return h.svc.Link(ctx, memory.LinkParams{
		SourceID: a.SourceID,
		TargetID: a.TargetID,
		Kind:     a.Kind,
		Score:    a.Score,
		Remove:   a.Remove,
	})
}

// --- auto_link_documents ---

var autoLinkSpec = dispatch.Spec{
	Name:        "auto_link_documents",
	Description: "Link a resource to every candidate whose content similarity reaches the threshold. Repeated calls never duplicate links.",
	Params: []dispatch.Param{
		{Name: "resource_id", Type: dispatch.String, Required: true, Description: "Resource to link from"},
		{Name: "candidate_ids", Type: dispatch.StringList, Description: "Candidate resource ids (default: all stored resources)"},
		{Name: "threshold", Type: dispatch.Number, Description: "Minimum similarity in [0,1] (default 0.7)"},
	},
}

type autoLinkArgs struct {
	ResourceID   string   `mapstructure:"resource_id" validate:"required"`
	CandidateIDs []string `mapstructure:"candidate_ids"`
	Threshold    *float64 `mapstructure:"threshold"`
}

func (h *handlers) autoLink(ctx context.Context, a autoLinkArgs) (*memory.AutoLinkResult, error) {
	threshold := DefaultAutoLinkThreshold
	if a.Threshold != nil {
		threshold = *a.Threshold
	}
	return h.svc.AutoLink(ctx, memory.AutoLinkParams{
		ResourceID: a.ResourceID,
		Candidates: a.CandidateIDs,
		Threshold:  threshold,
	})
}

// --- get_document_relationships ---

var relationshipsSpec = dispatch.Spec{
	Name:        "get_document_relationships",
	Description: "List the links of a resource in creation order. Depth above 1 walks the link graph in both directions.",
	Params: []dispatch.Param{
		{Name: "resource_id", Type: dispatch.String, Required: true, Description: "Resource id"},
		{Name: "direction", Type: dispatch.String, Enum: []string{"out", "in", "both"}, Description: "Which links at depth 1 (default both)"},
		{Name: "depth", Type: dispatch.Integer, Description: "Hops to follow, 1 to 5 (default 1)"},
	},
}

type relationshipsArgs struct {
	ResourceID string `mapstructure:"resource_id" validate:"required"`
	Direction  string `mapstructure:"direction"`
	Depth      int    `mapstructure:"depth" validate:"omitempty,min=1,max=5"`
}

func (h *handlers) relationships(ctx context.Context, a relationshipsArgs) (*memory.RelationshipsResult, error) {
	return h.svc.Relationships(ctx, a.ResourceID, store.Direction(a.Direction), a.Depth)
}

// --- statistics ---

var usageStatisticsSpec = dispatch.Spec{
	Name:        "get_context_usage_statistics",
	Description: "Total links and links by kind.",
}

func (h *handlers) usageStatistics(ctx context.Context, _ struct{}) (*store.LinkStats, error) {
	return h.svc.UsageStatistics(ctx)
}

var memoryStatisticsSpec = dispatch.Spec{
	Name:        "get_memory_statistics",
	Description: "Counts of resources, chunks, patterns and links, and the vector id sequence.",
}

func (h *handlers) memoryStatistics(ctx context.Context, _ struct{}) (*memory.Statistics, error) {
	return h.svc.Statistics(ctx)
}
