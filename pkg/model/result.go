package model

import "time"

// RunResult represents the result of the grouping pass over a completed
// profiler run's locality graph.
type RunResult struct {
	RunUUID             string    `json:"run_uuid"`
	Version             string    `json:"version"`
	NodeCount           int       `json:"node_count"`
	EdgeCount           int       `json:"edge_count"`
	PopularContextCount int       `json:"popular_context_count"`
	NumGroups           int       `json:"num_groups"`
	TotalAccesses       int64     `json:"total_accesses"`
	CoveredAccesses     int64     `json:"covered_accesses"`
	OracleSizeCount     int       `json:"oracle_size_count"`
	AnalyzedAt          time.Time `json:"analyzed_at"`
}

// GroupingRequest represents a request to run the grouping pass over a
// completed run's artifacts.
type GroupingRequest struct {
	RunID         int64
	RunUUID       string
	InputFile     string // path to the run's .tgf file
	OutputDir     string
	ResultFile    string
	UserName      string
	COSBucket     string
	RequestParams RunParams
}

// GroupingResponse represents the response from a grouping pass.
type GroupingResponse struct {
	RunUUID     string               `json:"run_uuid"`
	NumGroups   int                  `json:"num_groups"`
	OutputFiles []OutputFile         `json:"output_files"`
	Result      RunResult            `json:"result"`
	Suggestions []GroupingSuggestion `json:"suggestions"`
	Error       string               `json:"error,omitempty"`
}

// OutputFile describes one artifact produced by a run or its analysis.
type OutputFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind string `json:"kind"` // "tgf", "contexts", "oracle"
}

// RunContext holds the mutable state accumulated while the grouping pass
// walks a run's graph, handed between internal/scheduler and
// internal/advisor.
type RunContext struct {
	RunUUID        string               `json:"run_uuid"`
	Status         RunStatus            `json:"status"`
	StatusInfo     string               `json:"status_info"`
	ResultFile     string               `json:"result_file"`
	ContextsFile   string               `json:"contexts_file"`
	NumGroups      int                  `json:"num_groups"`
	Suggestions    []GroupingSuggestion `json:"suggestions"`
	CreateTime     int64                `json:"create_time"`
	BeginTime      int64                `json:"begin_time"`
	EndTime        int64                `json:"end_time"`
	AnalysisStatus AnalysisStatus       `json:"analysis_status"`
}

// NewRunContext creates a new RunContext with default values.
func NewRunContext() *RunContext {
	return &RunContext{
		Suggestions:    make([]GroupingSuggestion, 0),
		AnalysisStatus: AnalysisStatusPending,
	}
}

// SetFromResult updates the context from a completed RunResult.
func (ctx *RunContext) SetFromResult(r *RunResult) {
	ctx.NumGroups = r.NumGroups
}
