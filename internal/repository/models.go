// Package repository provides database abstraction for the affinity
// profiler service.
package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/affinityprof/haloprof/pkg/model"
)

// ProfilerRunRecord represents the profiler_runs table.
type ProfilerRunRecord struct {
	ID             int64                `gorm:"column:id;primaryKey;autoIncrement"`
	RunUUID        string               `gorm:"column:run_uuid;type:varchar(64);uniqueIndex"`
	TargetPath     string               `gorm:"column:target_path;type:varchar(512)"`
	Status         model.RunStatus      `gorm:"column:status"`
	AnalysisStatus model.AnalysisStatus `gorm:"column:analysis_status"`
	StatusInfo     string               `gorm:"column:status_info;type:text"`
	ResultFile     string               `gorm:"column:result_file;type:varchar(512)"`
	ContextsFile   string               `gorm:"column:contexts_file;type:varchar(512)"`
	UserName       string               `gorm:"column:user_name;type:varchar(128)"`
	COSBucket      string               `gorm:"column:cos_bucket;type:varchar(128)"`
	RequestParams  JSONField            `gorm:"column:request_params;type:json"`
	CreateTime     time.Time            `gorm:"column:create_time;autoCreateTime"`
	BeginTime      *time.Time           `gorm:"column:begin_time"`
	EndTime        *time.Time           `gorm:"column:end_time"`
}

// TableName returns the table name for ProfilerRunRecord.
func (ProfilerRunRecord) TableName() string {
	return "profiler_runs"
}

// ToModel converts ProfilerRunRecord to model.ProfilerRun.
func (r *ProfilerRunRecord) ToModel() *model.ProfilerRun {
	run := &model.ProfilerRun{
		ID:             r.ID,
		RunUUID:        r.RunUUID,
		TargetPath:     r.TargetPath,
		Status:         r.Status,
		AnalysisStatus: r.AnalysisStatus,
		StatusInfo:     r.StatusInfo,
		ResultFile:     r.ResultFile,
		ContextsFile:   r.ContextsFile,
		UserName:       r.UserName,
		COSBucket:      r.COSBucket,
		CreateTime:     r.CreateTime,
		BeginTime:      r.BeginTime,
		EndTime:        r.EndTime,
	}

	if r.RequestParams != nil {
		_ = json.Unmarshal(r.RequestParams, &run.RequestParams)
	}

	return run
}

// RunResultRecord represents the run_results table.
type RunResultRecord struct {
	ID                   int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunUUID              string    `gorm:"column:run_uuid;type:varchar(64);uniqueIndex"`
	Version              string    `gorm:"column:version;type:varchar(32)"`
	NodeCount            int       `gorm:"column:node_count"`
	EdgeCount            int       `gorm:"column:edge_count"`
	PopularContextCount  int       `gorm:"column:popular_context_count"`
	NumGroups            int       `gorm:"column:num_groups"`
	TotalAccesses        int64     `gorm:"column:total_accesses"`
	CoveredAccesses      int64     `gorm:"column:covered_accesses"`
	OracleSizeCount      int       `gorm:"column:oracle_size_count"`
	AnalyzedAt           time.Time `gorm:"column:analyzed_at"`
}

// TableName returns the table name for RunResultRecord.
func (RunResultRecord) TableName() string {
	return "run_results"
}

// ToModel converts RunResultRecord to model.RunResult.
func (r *RunResultRecord) ToModel() *model.RunResult {
	return &model.RunResult{
		RunUUID:             r.RunUUID,
		Version:             r.Version,
		NodeCount:           r.NodeCount,
		EdgeCount:           r.EdgeCount,
		PopularContextCount: r.PopularContextCount,
		NumGroups:           r.NumGroups,
		TotalAccesses:       r.TotalAccesses,
		CoveredAccesses:     r.CoveredAccesses,
		OracleSizeCount:     r.OracleSizeCount,
		AnalyzedAt:          r.AnalyzedAt,
	}
}

// GroupingSuggestionRecord represents the grouping_suggestions table.
type GroupingSuggestionRecord struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunUUID    string    `gorm:"column:run_uuid;type:varchar(64);index"`
	Context    int64     `gorm:"column:context"`
	Type       string    `gorm:"column:type;type:varchar(64)"`
	Severity   string    `gorm:"column:severity;type:varchar(32)"`
	Suggestion string    `gorm:"column:suggestion;type:text"`
	CallSite   string    `gorm:"column:call_site;type:varchar(512)"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the table name for GroupingSuggestionRecord.
func (GroupingSuggestionRecord) TableName() string {
	return "grouping_suggestions"
}

// ToModel converts GroupingSuggestionRecord to model.GroupingSuggestion.
func (s *GroupingSuggestionRecord) ToModel() model.GroupingSuggestion {
	return model.GroupingSuggestion{
		ID:         s.ID,
		RunUUID:    s.RunUUID,
		Context:    s.Context,
		Type:       s.Type,
		Severity:   s.Severity,
		Suggestion: s.Suggestion,
		CallSite:   s.CallSite,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

// GroupingRuleRecord represents the grouping_rules table.
type GroupingRuleRecord struct {
	ID                int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Type              string `gorm:"column:type;type:varchar(64)"`
	Operation         string `gorm:"column:operation;type:varchar(64)"`
	Target            string `gorm:"column:target;type:varchar(512)"`
	TargetType        string `gorm:"column:target_type;type:varchar(64)"`
	Threshold         float64 `gorm:"column:threshold"`
	SuggestionContent string `gorm:"column:suggestion_content;type:text"`
	Deleted           *int64 `gorm:"column:deleted"`
}

// TableName returns the table name for GroupingRuleRecord.
func (GroupingRuleRecord) TableName() string {
	return "grouping_rules"
}

// ToModel converts GroupingRuleRecord to model.GroupingRule.
func (r *GroupingRuleRecord) ToModel() model.GroupingRule {
	return model.GroupingRule{
		ID:                r.ID,
		Type:              r.Type,
		Operation:         r.Operation,
		Target:            r.Target,
		TargetType:        r.TargetType,
		Threshold:         r.Threshold,
		SuggestionContent: r.SuggestionContent,
	}
}

// JSONField is a custom type for handling JSON fields in GORM.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("unsupported type for JSONField")
	}
}

// MarshalJSON implements json.Marshaler interface.
func (j JSONField) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (j *JSONField) UnmarshalJSON(data []byte) error {
	if data == nil || string(data) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}
