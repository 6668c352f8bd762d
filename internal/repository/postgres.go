package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/affinityprof/haloprof/pkg/model"
)

// PostgresRunRepository implements RunRepository for PostgreSQL.
type PostgresRunRepository struct {
	db *sql.DB
}

// NewPostgresRunRepository creates a new PostgresRunRepository.
func NewPostgresRunRepository(db *sql.DB) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

// GetPendingRuns retrieves runs that are pending analysis.
func (r *PostgresRunRepository) GetPendingRuns(ctx context.Context, limit int) ([]*model.ProfilerRun, error) {
	query := `
		SELECT id, run_uuid, target_path, status, analysis_status,
			   COALESCE(status_info, ''), COALESCE(result_file, ''), COALESCE(contexts_file, ''),
			   COALESCE(user_name, ''), COALESCE(cos_bucket, ''),
			   request_params, create_time, begin_time, end_time
		FROM profiler_runs
		WHERE status = $1 AND analysis_status = $2
		ORDER BY id DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, model.RunStatusCompleted, model.AnalysisStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending runs: %w", err)
	}
	defer rows.Close()

	return r.scanRuns(rows)
}

// GetRunByID retrieves a run by its ID.
func (r *PostgresRunRepository) GetRunByID(ctx context.Context, id int64) (*model.ProfilerRun, error) {
	query := `
		SELECT id, run_uuid, target_path, status, analysis_status,
			   COALESCE(status_info, ''), COALESCE(result_file, ''), COALESCE(contexts_file, ''),
			   COALESCE(user_name, ''), COALESCE(cos_bucket, ''),
			   request_params, create_time, begin_time, end_time
		FROM profiler_runs
		WHERE id = $1
	`

	run, err := r.scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// GetRunByUUID retrieves a run by its UUID.
func (r *PostgresRunRepository) GetRunByUUID(ctx context.Context, uuid string) (*model.ProfilerRun, error) {
	query := `
		SELECT id, run_uuid, target_path, status, analysis_status,
			   COALESCE(status_info, ''), COALESCE(result_file, ''), COALESCE(contexts_file, ''),
			   COALESCE(user_name, ''), COALESCE(cos_bucket, ''),
			   request_params, create_time, begin_time, end_time
		FROM profiler_runs
		WHERE run_uuid = $1
	`

	run, err := r.scanRun(r.db.QueryRowContext(ctx, query, uuid))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %s", uuid)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// UpdateAnalysisStatus updates the analysis status of a run.
func (r *PostgresRunRepository) UpdateAnalysisStatus(ctx context.Context, id int64, status model.AnalysisStatus) error {
	query := `UPDATE profiler_runs SET analysis_status = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update analysis status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run not found: %d", id)
	}

	return nil
}

// UpdateAnalysisStatusWithInfo updates the analysis status with additional info.
func (r *PostgresRunRepository) UpdateAnalysisStatusWithInfo(ctx context.Context, id int64, status model.AnalysisStatus, info string) error {
	query := `UPDATE profiler_runs SET analysis_status = $1, status_info = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, status, info, id)
	if err != nil {
		return fmt.Errorf("failed to update analysis status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run not found: %d", id)
	}

	return nil
}

// LockRunForAnalysis attempts to lock a run for analysis using FOR UPDATE NOWAIT.
func (r *PostgresRunRepository) LockRunForAnalysis(ctx context.Context, id int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Try to lock the row with FOR UPDATE NOWAIT
	var analysisStatus model.AnalysisStatus
	query := `SELECT analysis_status FROM profiler_runs WHERE id = $1 AND analysis_status = $2 FOR UPDATE NOWAIT`
	err = tx.QueryRowContext(ctx, query, id, model.AnalysisStatusPending).Scan(&analysisStatus)
	if err != nil {
		// Could not lock - either not found or already locked
		return false, nil
	}

	// Update status to running
	updateQuery := `UPDATE profiler_runs SET analysis_status = $1 WHERE id = $2`
	_, err = tx.ExecContext(ctx, updateQuery, model.AnalysisStatusRunning, id)
	if err != nil {
		return false, fmt.Errorf("failed to update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// scanRow is satisfied by both *sql.Row and *sql.Rows.
type scanRow interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresRunRepository) scanRun(row scanRow) (*model.ProfilerRun, error) {
	run := &model.ProfilerRun{}
	var requestParamsJSON []byte
	var beginTime, endTime sql.NullTime

	err := row.Scan(
		&run.ID, &run.RunUUID, &run.TargetPath,
		&run.Status, &run.AnalysisStatus, &run.StatusInfo, &run.ResultFile, &run.ContextsFile,
		&run.UserName, &run.COSBucket,
		&requestParamsJSON, &run.CreateTime, &beginTime, &endTime,
	)
	if err != nil {
		return nil, err
	}

	if beginTime.Valid {
		run.BeginTime = &beginTime.Time
	}
	if endTime.Valid {
		run.EndTime = &endTime.Time
	}

	if requestParamsJSON != nil {
		if err := json.Unmarshal(requestParamsJSON, &run.RequestParams); err != nil {
			return nil, fmt.Errorf("failed to parse request params: %w", err)
		}
	}

	return run, nil
}

// scanRuns scans multiple runs from rows.
func (r *PostgresRunRepository) scanRuns(rows *sql.Rows) ([]*model.ProfilerRun, error) {
	var runs []*model.ProfilerRun

	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// PostgresResultRepository implements ResultRepository for PostgreSQL.
type PostgresResultRepository struct {
	db      *sql.DB
	version string
}

// NewPostgresResultRepository creates a new PostgresResultRepository.
func NewPostgresResultRepository(db *sql.DB, version string) *PostgresResultRepository {
	return &PostgresResultRepository{db: db, version: version}
}

// SaveResult saves a run result to the database.
func (r *PostgresResultRepository) SaveResult(ctx context.Context, result *model.RunResult) error {
	query := `
		INSERT INTO run_results (run_uuid, version, node_count, edge_count, popular_context_count,
			num_groups, total_accesses, covered_accesses, oracle_size_count, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		result.RunUUID, r.version, result.NodeCount, result.EdgeCount, result.PopularContextCount,
		result.NumGroups, result.TotalAccesses, result.CoveredAccesses, result.OracleSizeCount, result.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run result: %w", err)
	}

	return nil
}

// GetResultByRunUUID retrieves the result for a run.
func (r *PostgresResultRepository) GetResultByRunUUID(ctx context.Context, runUUID string) (*model.RunResult, error) {
	query := `
		SELECT run_uuid, version, node_count, edge_count, popular_context_count,
			   num_groups, total_accesses, covered_accesses, oracle_size_count, analyzed_at
		FROM run_results
		WHERE run_uuid = $1
	`

	result := &model.RunResult{}
	err := r.db.QueryRowContext(ctx, query, runUUID).Scan(
		&result.RunUUID, &result.Version, &result.NodeCount, &result.EdgeCount, &result.PopularContextCount,
		&result.NumGroups, &result.TotalAccesses, &result.CoveredAccesses, &result.OracleSizeCount, &result.AnalyzedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("result not found for run: %s", runUUID)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	return result, nil
}

// UpdateResult updates an existing run result.
func (r *PostgresResultRepository) UpdateResult(ctx context.Context, result *model.RunResult) error {
	query := `
		UPDATE run_results
		SET node_count = $1, edge_count = $2, popular_context_count = $3, num_groups = $4,
			total_accesses = $5, covered_accesses = $6, oracle_size_count = $7, version = $8
		WHERE run_uuid = $9
	`

	res, err := r.db.ExecContext(ctx, query,
		result.NodeCount, result.EdgeCount, result.PopularContextCount, result.NumGroups,
		result.TotalAccesses, result.CoveredAccesses, result.OracleSizeCount, r.version, result.RunUUID,
	)
	if err != nil {
		return fmt.Errorf("failed to update result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("result not found for run: %s", result.RunUUID)
	}

	return nil
}

// PostgresSuggestionRepository implements SuggestionRepository for PostgreSQL.
type PostgresSuggestionRepository struct {
	db *sql.DB
}

// NewPostgresSuggestionRepository creates a new PostgresSuggestionRepository.
func NewPostgresSuggestionRepository(db *sql.DB) *PostgresSuggestionRepository {
	return &PostgresSuggestionRepository{db: db}
}

// SaveSuggestions saves multiple suggestions to the database.
func (r *PostgresSuggestionRepository) SaveSuggestions(ctx context.Context, suggestions []model.GroupingSuggestion) error {
	if len(suggestions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO grouping_suggestions (run_uuid, context, type, severity, suggestion, call_site, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now()
	for _, sug := range suggestions {
		if sug.Suggestion == "" {
			continue
		}

		_, err := tx.ExecContext(ctx, query,
			sug.RunUUID, sug.Context, sug.Type, sug.Severity, sug.Suggestion, sug.CallSite, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert suggestion: %w", err)
		}
	}

	return tx.Commit()
}

// GetSuggestionsByRunUUID retrieves suggestions for a run.
func (r *PostgresSuggestionRepository) GetSuggestionsByRunUUID(ctx context.Context, runUUID string) ([]model.GroupingSuggestion, error) {
	query := `
		SELECT id, run_uuid, context, COALESCE(type, ''), COALESCE(severity, ''), suggestion,
			   COALESCE(call_site, ''), created_at, updated_at
		FROM grouping_suggestions
		WHERE run_uuid = $1
	`

	rows, err := r.db.QueryContext(ctx, query, runUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []model.GroupingSuggestion
	for rows.Next() {
		var sug model.GroupingSuggestion

		err := rows.Scan(
			&sug.ID, &sug.RunUUID, &sug.Context, &sug.Type, &sug.Severity, &sug.Suggestion,
			&sug.CallSite, &sug.CreatedAt, &sug.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}

		suggestions = append(suggestions, sug)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return suggestions, nil
}

// GetGroupingRules retrieves all active grouping rules.
func (r *PostgresSuggestionRepository) GetGroupingRules(ctx context.Context) ([]model.GroupingRule, error) {
	query := `
		SELECT id, type, operation, target, target_type, threshold, suggestion_content
		FROM grouping_rules
		WHERE deleted IS NULL
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []model.GroupingRule
	for rows.Next() {
		var rule model.GroupingRule
		err := rows.Scan(
			&rule.ID, &rule.Type, &rule.Operation, &rule.Target,
			&rule.TargetType, &rule.Threshold, &rule.SuggestionContent,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return rules, nil
}
