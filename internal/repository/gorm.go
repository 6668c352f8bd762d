package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/affinityprof/haloprof/pkg/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRunRepository implements RunRepository using GORM.
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository.
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// GetPendingRuns retrieves runs that are pending analysis.
func (r *GormRunRepository) GetPendingRuns(ctx context.Context, limit int) ([]*model.ProfilerRun, error) {
	var runs []ProfilerRunRecord

	err := r.db.WithContext(ctx).
		Where("status = ? AND analysis_status = ?", model.RunStatusCompleted, model.AnalysisStatusPending).
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error

	if err != nil {
		return nil, fmt.Errorf("failed to query pending runs: %w", err)
	}

	result := make([]*model.ProfilerRun, len(runs))
	for i, run := range runs {
		result[i] = run.ToModel()
	}

	return result, nil
}

// GetRunByID retrieves a run by its ID.
func (r *GormRunRepository) GetRunByID(ctx context.Context, id int64) (*model.ProfilerRun, error) {
	var run ProfilerRunRecord

	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run.ToModel(), nil
}

// GetRunByUUID retrieves a run by its UUID.
func (r *GormRunRepository) GetRunByUUID(ctx context.Context, uuid string) (*model.ProfilerRun, error) {
	var run ProfilerRunRecord

	err := r.db.WithContext(ctx).Where("run_uuid = ?", uuid).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run not found: %s", uuid)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run.ToModel(), nil
}

// UpdateAnalysisStatus updates the analysis status of a run.
func (r *GormRunRepository) UpdateAnalysisStatus(ctx context.Context, id int64, status model.AnalysisStatus) error {
	result := r.db.WithContext(ctx).
		Model(&ProfilerRunRecord{}).
		Where("id = ?", id).
		Update("analysis_status", status)

	if result.Error != nil {
		return fmt.Errorf("failed to update analysis status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run not found: %d", id)
	}

	return nil
}

// UpdateAnalysisStatusWithInfo updates the analysis status with additional info.
func (r *GormRunRepository) UpdateAnalysisStatusWithInfo(ctx context.Context, id int64, status model.AnalysisStatus, info string) error {
	result := r.db.WithContext(ctx).
		Model(&ProfilerRunRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"analysis_status": status,
			"status_info":     info,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update analysis status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("run not found: %d", id)
	}

	return nil
}

// LockRunForAnalysis attempts to lock a run for analysis using FOR UPDATE.
func (r *GormRunRepository) LockRunForAnalysis(ctx context.Context, id int64) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run ProfilerRunRecord

		// Try to lock the row with FOR UPDATE
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND analysis_status = ?", id, model.AnalysisStatusPending).
			First(&run).Error

		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return gorm.ErrRecordNotFound
			}
			return err
		}

		// Update status to running
		return tx.Model(&ProfilerRunRecord{}).
			Where("id = ?", id).
			Update("analysis_status", model.AnalysisStatusRunning).Error
	})

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock run: %w", err)
	}

	return true, nil
}

// GormResultRepository implements ResultRepository using GORM.
type GormResultRepository struct {
	db      *gorm.DB
	version string
}

// NewGormResultRepository creates a new GormResultRepository.
func NewGormResultRepository(db *gorm.DB, version string) *GormResultRepository {
	return &GormResultRepository{db: db, version: version}
}

// SaveResult saves a run result to the database.
func (r *GormResultRepository) SaveResult(ctx context.Context, result *model.RunResult) error {
	record := &RunResultRecord{
		RunUUID:             result.RunUUID,
		Version:             r.version,
		NodeCount:           result.NodeCount,
		EdgeCount:           result.EdgeCount,
		PopularContextCount: result.PopularContextCount,
		NumGroups:           result.NumGroups,
		TotalAccesses:       result.TotalAccesses,
		CoveredAccesses:     result.CoveredAccesses,
		OracleSizeCount:     result.OracleSizeCount,
		AnalyzedAt:          result.AnalyzedAt,
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save run result: %w", err)
	}

	return nil
}

// GetResultByRunUUID retrieves the result for a run.
func (r *GormResultRepository) GetResultByRunUUID(ctx context.Context, runUUID string) (*model.RunResult, error) {
	var record RunResultRecord

	err := r.db.WithContext(ctx).Where("run_uuid = ?", runUUID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("result not found for run: %s", runUUID)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	return record.ToModel(), nil
}

// UpdateResult updates an existing run result.
func (r *GormResultRepository) UpdateResult(ctx context.Context, result *model.RunResult) error {
	res := r.db.WithContext(ctx).
		Model(&RunResultRecord{}).
		Where("run_uuid = ?", result.RunUUID).
		Updates(map[string]interface{}{
			"node_count":            result.NodeCount,
			"edge_count":            result.EdgeCount,
			"popular_context_count": result.PopularContextCount,
			"num_groups":            result.NumGroups,
			"total_accesses":        result.TotalAccesses,
			"covered_accesses":      result.CoveredAccesses,
			"oracle_size_count":     result.OracleSizeCount,
			"version":               r.version,
		})

	if res.Error != nil {
		return fmt.Errorf("failed to update result: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("result not found for run: %s", result.RunUUID)
	}

	return nil
}

// GormSuggestionRepository implements SuggestionRepository using GORM.
type GormSuggestionRepository struct {
	db *gorm.DB
}

// NewGormSuggestionRepository creates a new GormSuggestionRepository.
func NewGormSuggestionRepository(db *gorm.DB) *GormSuggestionRepository {
	return &GormSuggestionRepository{db: db}
}

// SaveSuggestions saves multiple suggestions to the database.
func (r *GormSuggestionRepository) SaveSuggestions(ctx context.Context, suggestions []model.GroupingSuggestion) error {
	if len(suggestions) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		for _, sug := range suggestions {
			if sug.Suggestion == "" {
				continue
			}

			record := &GroupingSuggestionRecord{
				RunUUID:    sug.RunUUID,
				Context:    sug.Context,
				Type:       sug.Type,
				Severity:   sug.Severity,
				Suggestion: sug.Suggestion,
				CallSite:   sug.CallSite,
				CreatedAt:  now,
				UpdatedAt:  now,
			}

			if err := tx.Create(record).Error; err != nil {
				return fmt.Errorf("failed to insert suggestion: %w", err)
			}
		}

		return nil
	})
}

// GetSuggestionsByRunUUID retrieves suggestions for a run.
func (r *GormSuggestionRepository) GetSuggestionsByRunUUID(ctx context.Context, runUUID string) ([]model.GroupingSuggestion, error) {
	var records []GroupingSuggestionRecord

	err := r.db.WithContext(ctx).Where("run_uuid = ?", runUUID).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}

	suggestions := make([]model.GroupingSuggestion, len(records))
	for i, rec := range records {
		suggestions[i] = rec.ToModel()
	}

	return suggestions, nil
}

// GetGroupingRules retrieves all active grouping rules.
func (r *GormSuggestionRepository) GetGroupingRules(ctx context.Context) ([]model.GroupingRule, error) {
	var records []GroupingRuleRecord

	err := r.db.WithContext(ctx).Where("deleted IS NULL").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	rules := make([]model.GroupingRule, len(records))
	for i, rec := range records {
		rules[i] = rec.ToModel()
	}

	return rules, nil
}
