// Package repository provides database abstraction for the affinity
// profiler service.
package repository

import (
	"context"

	"github.com/affinityprof/haloprof/pkg/model"
)

// RunRepository defines the interface for profiler-run database
// operations.
type RunRepository interface {
	// GetPendingRuns retrieves runs that are pending analysis.
	GetPendingRuns(ctx context.Context, limit int) ([]*model.ProfilerRun, error)

	// GetRunByID retrieves a run by its ID.
	GetRunByID(ctx context.Context, id int64) (*model.ProfilerRun, error)

	// GetRunByUUID retrieves a run by its UUID.
	GetRunByUUID(ctx context.Context, uuid string) (*model.ProfilerRun, error)

	// UpdateAnalysisStatus updates the analysis status of a run.
	UpdateAnalysisStatus(ctx context.Context, id int64, status model.AnalysisStatus) error

	// UpdateAnalysisStatusWithInfo updates the analysis status with additional info.
	UpdateAnalysisStatusWithInfo(ctx context.Context, id int64, status model.AnalysisStatus, info string) error

	// LockRunForAnalysis attempts to lock a run for analysis (prevents concurrent processing).
	LockRunForAnalysis(ctx context.Context, id int64) (bool, error)
}

// ResultRepository defines the interface for grouping-result operations.
type ResultRepository interface {
	// SaveResult saves a run result to the database.
	SaveResult(ctx context.Context, result *model.RunResult) error

	// GetResultByRunUUID retrieves the result for a run.
	GetResultByRunUUID(ctx context.Context, runUUID string) (*model.RunResult, error)

	// UpdateResult updates an existing run result.
	UpdateResult(ctx context.Context, result *model.RunResult) error
}

// SuggestionRepository defines the interface for grouping-suggestion
// operations.
type SuggestionRepository interface {
	// SaveSuggestions saves multiple suggestions to the database.
	SaveSuggestions(ctx context.Context, suggestions []model.GroupingSuggestion) error

	// GetSuggestionsByRunUUID retrieves suggestions for a run.
	GetSuggestionsByRunUUID(ctx context.Context, runUUID string) ([]model.GroupingSuggestion, error)

	// GetGroupingRules retrieves all active grouping rules.
	GetGroupingRules(ctx context.Context) ([]model.GroupingRule, error)
}
