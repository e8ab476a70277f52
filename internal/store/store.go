// Package store is the relational system of record: resources and their
// chunks, the vector id sequence, context links and code patterns, all in one
// SQLite database.
package store

import (
	"time"

	"github.com/rcliao/memoryd/internal/model"
)

// Direction selects which end of a link an entity must be on.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionOut || d == DirectionIn || d == DirectionBoth
}

// TraversedLink is a link reached by a multi-hop walk.
type TraversedLink struct {
	model.ContextLink
	Depth int `json:"depth"`
}

// LinkStats are direct aggregates over the links table.
type LinkStats struct {
	TotalLinks  int            `json:"total_links"`
	LinksByKind map[string]int `json:"links_by_kind"`
}

// AnalyzeParams filters the patterns an analysis runs over. Zero values mean
// no filter.
type AnalyzeParams struct {
	Tags  []string
	Since time.Time
}

// ErrorCount is one distinct error message and how often it was recorded.
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// PatternAggregate holds raw per-verdict counts for a filtered pattern set.
type PatternAggregate struct {
	Count             int                   `json:"count"`
	ByVerdict         map[model.Verdict]int `json:"by_verdict"`
	MeanExecutionTime float64               `json:"mean_execution_time"`
	TopErrors         []ErrorCount          `json:"top_errors,omitempty"`
}

// Stats holds database statistics.
type Stats struct {
	DBPath           string `json:"db_path"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	Resources        int    `json:"resources"`
	Chunks           int    `json:"chunks"`
	Patterns         int    `json:"patterns"`
	Links            int    `json:"links"`
	LastVectorID     int64  `json:"last_vector_id"`
	RetiredVectorIDs int    `json:"retired_vector_ids"`
}
