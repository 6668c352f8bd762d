package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_String(t *testing.T) {
	tests := []struct {
		status   RunStatus
		expected string
	}{
		{RunStatusPending, "pending"},
		{RunStatusRunning, "running"},
		{RunStatusCompleted, "completed"},
		{RunStatusFailed, "failed"},
		{RunStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestProfilerRun_IsHighPriority(t *testing.T) {
	tests := []struct {
		name     string
		run      *ProfilerRun
		expected bool
	}{
		{
			name: "bounded instruction limit",
			run: &ProfilerRun{
				RequestParams: RunParams{InstructionLimit: 1_000_000},
			},
			expected: true,
		},
		{
			name: "instruction limit above threshold",
			run: &ProfilerRun{
				RequestParams: RunParams{InstructionLimit: 50_000_000},
			},
			expected: false,
		},
		{
			name: "no instruction limit specified",
			run: &ProfilerRun{
				RequestParams: RunParams{},
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.run.IsHighPriority())
		})
	}
}

func TestNewProfilerRun(t *testing.T) {
	params := RunParams{MaxStackDepth: 64, NumGroups: 4}
	run := NewProfilerRun(123, "uuid-456", "/usr/bin/worker", params)

	assert.Equal(t, int64(123), run.ID)
	assert.Equal(t, "uuid-456", run.RunUUID)
	assert.Equal(t, "/usr/bin/worker", run.TargetPath)
	assert.Equal(t, RunStatusPending, run.Status)
	assert.Equal(t, AnalysisStatusPending, run.AnalysisStatus)
	assert.Equal(t, params, run.RequestParams)
	assert.False(t, run.CreateTime.IsZero())
}
