package scheduler

import (
	"context"

	"github.com/affinityprof/haloprof/internal/repository"
	"github.com/affinityprof/haloprof/pkg/model"
)

// RunFetcher retrieves and locks pending profiler runs for processing.
// It is a thin seam in front of repository.RunRepository so Scheduler
// doesn't depend on the repository package directly.
type RunFetcher interface {
	FetchPendingRuns(ctx context.Context, limit int) ([]*model.ProfilerRun, error)
	LockRun(ctx context.Context, id int64) (bool, error)
	UpdateRunStatus(ctx context.Context, id int64, status model.AnalysisStatus, info string) error
	FetchGroupingRules(ctx context.Context) ([]model.GroupingRule, error)
}

// RepositoryRunFetcher implements RunFetcher using repository interfaces.
type RepositoryRunFetcher struct {
	runRepo        repository.RunRepository
	suggestionRepo repository.SuggestionRepository
}

// NewRepositoryRunFetcher creates a new RepositoryRunFetcher.
func NewRepositoryRunFetcher(runRepo repository.RunRepository, suggestionRepo repository.SuggestionRepository) *RepositoryRunFetcher {
	return &RepositoryRunFetcher{
		runRepo:        runRepo,
		suggestionRepo: suggestionRepo,
	}
}

// FetchPendingRuns returns runs waiting for grouping analysis.
func (f *RepositoryRunFetcher) FetchPendingRuns(ctx context.Context, limit int) ([]*model.ProfilerRun, error) {
	return f.runRepo.GetPendingRuns(ctx, limit)
}

// LockRun attempts to lock a run for processing, preventing a second
// worker from picking up the same run concurrently.
func (f *RepositoryRunFetcher) LockRun(ctx context.Context, id int64) (bool, error) {
	return f.runRepo.LockRunForAnalysis(ctx, id)
}

// UpdateRunStatus updates a run's analysis status, optionally recording
// a status message.
func (f *RepositoryRunFetcher) UpdateRunStatus(ctx context.Context, id int64, status model.AnalysisStatus, info string) error {
	if info != "" {
		return f.runRepo.UpdateAnalysisStatusWithInfo(ctx, id, status, info)
	}
	return f.runRepo.UpdateAnalysisStatus(ctx, id, status)
}

// FetchGroupingRules returns the operator-supplied grouping rules used
// to drive advisor.Advise.
func (f *RepositoryRunFetcher) FetchGroupingRules(ctx context.Context) ([]model.GroupingRule, error) {
	return f.suggestionRepo.GetGroupingRules(ctx)
}
