package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/affinityprof/haloprof/pkg/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Create tables
	err = db.AutoMigrate(
		&ProfilerRunRecord{},
		&RunResultRecord{},
		&GroupingSuggestionRecord{},
		&GroupingRuleRecord{},
	)
	require.NoError(t, err)

	return db
}

func TestGormRunRepository_GetPendingRuns(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	t.Run("GetPendingRuns_Empty", func(t *testing.T) {
		runs, err := repo.GetPendingRuns(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("GetPendingRuns_WithData", func(t *testing.T) {
		run := &ProfilerRunRecord{
			RunUUID:        "test-uuid-1",
			TargetPath:     "/usr/bin/worker",
			Status:         model.RunStatusCompleted,
			AnalysisStatus: model.AnalysisStatusPending,
			UserName:       "testuser",
		}
		require.NoError(t, db.Create(run).Error)

		runs, err := repo.GetPendingRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "test-uuid-1", runs[0].RunUUID)
	})
}

func TestGormRunRepository_GetRunByID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	t.Run("GetRunByID_NotFound", func(t *testing.T) {
		run, err := repo.GetRunByID(ctx, 999)
		assert.Error(t, err)
		assert.Nil(t, run)
		assert.Contains(t, err.Error(), "run not found")
	})

	t.Run("GetRunByID_Success", func(t *testing.T) {
		run := &ProfilerRunRecord{
			RunUUID:        "test-uuid-2",
			TargetPath:     "/usr/bin/worker",
			Status:         model.RunStatusCompleted,
			AnalysisStatus: model.AnalysisStatusPending,
		}
		require.NoError(t, db.Create(run).Error)

		result, err := repo.GetRunByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "test-uuid-2", result.RunUUID)
	})
}

func TestGormRunRepository_GetRunByUUID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	t.Run("GetRunByUUID_NotFound", func(t *testing.T) {
		run, err := repo.GetRunByUUID(ctx, "nonexistent")
		assert.Error(t, err)
		assert.Nil(t, run)
		assert.Contains(t, err.Error(), "run not found")
	})

	t.Run("GetRunByUUID_Success", func(t *testing.T) {
		run := &ProfilerRunRecord{
			RunUUID:        "test-uuid-3",
			TargetPath:     "/usr/bin/worker",
			Status:         model.RunStatusCompleted,
			AnalysisStatus: model.AnalysisStatusPending,
		}
		require.NoError(t, db.Create(run).Error)

		result, err := repo.GetRunByUUID(ctx, "test-uuid-3")
		require.NoError(t, err)
		assert.Equal(t, run.ID, result.ID)
	})
}

func TestGormRunRepository_UpdateAnalysisStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	t.Run("UpdateStatus_NotFound", func(t *testing.T) {
		err := repo.UpdateAnalysisStatus(ctx, 999, model.AnalysisStatusCompleted)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "run not found")
	})

	t.Run("UpdateStatus_Success", func(t *testing.T) {
		run := &ProfilerRunRecord{
			RunUUID:        "test-uuid-4",
			Status:         model.RunStatusCompleted,
			AnalysisStatus: model.AnalysisStatusPending,
		}
		require.NoError(t, db.Create(run).Error)

		err := repo.UpdateAnalysisStatus(ctx, run.ID, model.AnalysisStatusCompleted)
		require.NoError(t, err)

		var updated ProfilerRunRecord
		require.NoError(t, db.First(&updated, run.ID).Error)
		assert.Equal(t, model.AnalysisStatusCompleted, updated.AnalysisStatus)
	})
}

func TestGormRunRepository_UpdateAnalysisStatusWithInfo(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	run := &ProfilerRunRecord{
		RunUUID:        "test-uuid-5",
		Status:         model.RunStatusCompleted,
		AnalysisStatus: model.AnalysisStatusPending,
	}
	require.NoError(t, db.Create(run).Error)

	err := repo.UpdateAnalysisStatusWithInfo(ctx, run.ID, model.AnalysisStatusFailed, "error message")
	require.NoError(t, err)

	var updated ProfilerRunRecord
	require.NoError(t, db.First(&updated, run.ID).Error)
	assert.Equal(t, model.AnalysisStatusFailed, updated.AnalysisStatus)
	assert.Equal(t, "error message", updated.StatusInfo)
}

func TestGormRunRepository_LockRunForAnalysis(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormRunRepository(db)
	ctx := context.Background()

	t.Run("Lock_NotFound", func(t *testing.T) {
		locked, err := repo.LockRunForAnalysis(ctx, 999)
		require.NoError(t, err)
		assert.False(t, locked)
	})

	t.Run("Lock_Success", func(t *testing.T) {
		run := &ProfilerRunRecord{
			RunUUID:        "test-uuid-6",
			Status:         model.RunStatusCompleted,
			AnalysisStatus: model.AnalysisStatusPending,
		}
		require.NoError(t, db.Create(run).Error)

		locked, err := repo.LockRunForAnalysis(ctx, run.ID)
		require.NoError(t, err)
		assert.True(t, locked)

		var updated ProfilerRunRecord
		require.NoError(t, db.First(&updated, run.ID).Error)
		assert.Equal(t, model.AnalysisStatusRunning, updated.AnalysisStatus)
	})
}

func TestGormResultRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormResultRepository(db, "1.0.0")
	ctx := context.Background()

	t.Run("SaveResult_Success", func(t *testing.T) {
		result := &model.RunResult{
			RunUUID:   "result-uuid-1",
			NumGroups: 3,
		}

		err := repo.SaveResult(ctx, result)
		require.NoError(t, err)
	})

	t.Run("GetResultByRunUUID_Success", func(t *testing.T) {
		result, err := repo.GetResultByRunUUID(ctx, "result-uuid-1")
		require.NoError(t, err)
		assert.Equal(t, "result-uuid-1", result.RunUUID)
		assert.Equal(t, "1.0.0", result.Version)
		assert.Equal(t, 3, result.NumGroups)
	})

	t.Run("GetResultByRunUUID_NotFound", func(t *testing.T) {
		result, err := repo.GetResultByRunUUID(ctx, "nonexistent")
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "result not found")
	})

	t.Run("UpdateResult_Success", func(t *testing.T) {
		result := &model.RunResult{
			RunUUID:   "result-uuid-1",
			NumGroups: 5,
		}

		err := repo.UpdateResult(ctx, result)
		require.NoError(t, err)
	})

	t.Run("UpdateResult_NotFound", func(t *testing.T) {
		result := &model.RunResult{
			RunUUID: "nonexistent",
		}

		err := repo.UpdateResult(ctx, result)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "result not found")
	})
}

func TestGormSuggestionRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormSuggestionRepository(db)
	ctx := context.Background()

	t.Run("SaveSuggestions_Empty", func(t *testing.T) {
		err := repo.SaveSuggestions(ctx, []model.GroupingSuggestion{})
		require.NoError(t, err)
	})

	t.Run("SaveSuggestions_Success", func(t *testing.T) {
		suggestions := []model.GroupingSuggestion{
			{RunUUID: "sug-uuid-1", Suggestion: "Test suggestion 1"},
			{RunUUID: "sug-uuid-1", Suggestion: "Test suggestion 2"},
		}

		err := repo.SaveSuggestions(ctx, suggestions)
		require.NoError(t, err)
	})

	t.Run("SaveSuggestions_SkipEmpty", func(t *testing.T) {
		suggestions := []model.GroupingSuggestion{
			{RunUUID: "sug-uuid-2", Suggestion: ""},
			{RunUUID: "sug-uuid-2", Suggestion: "Valid suggestion"},
		}

		err := repo.SaveSuggestions(ctx, suggestions)
		require.NoError(t, err)

		result, err := repo.GetSuggestionsByRunUUID(ctx, "sug-uuid-2")
		require.NoError(t, err)
		assert.Len(t, result, 1)
	})

	t.Run("GetSuggestionsByRunUUID_Success", func(t *testing.T) {
		result, err := repo.GetSuggestionsByRunUUID(ctx, "sug-uuid-1")
		require.NoError(t, err)
		assert.Len(t, result, 2)
	})

	t.Run("GetGroupingRules_Success", func(t *testing.T) {
		rule := &GroupingRuleRecord{
			Type:              "size",
			Operation:         "gt",
			Target:            "access_count",
			TargetType:        "context",
			Threshold:         10.0,
			SuggestionContent: "Consider a dedicated group",
		}
		require.NoError(t, db.Create(rule).Error)

		rules, err := repo.GetGroupingRules(ctx)
		require.NoError(t, err)
		assert.Len(t, rules, 1)
		assert.Equal(t, "size", rules[0].Type)
	})
}
