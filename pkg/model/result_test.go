package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRunContext(t *testing.T) {
	ctx := NewRunContext()

	assert.NotNil(t, ctx)
	assert.NotNil(t, ctx.Suggestions)
	assert.Empty(t, ctx.Suggestions)
	assert.Equal(t, AnalysisStatusPending, ctx.AnalysisStatus)
}

func TestRunContext_SetFromResult(t *testing.T) {
	ctx := NewRunContext()

	result := &RunResult{
		RunUUID:             "uuid-123",
		NodeCount:           10,
		EdgeCount:           20,
		PopularContextCount: 3,
		NumGroups:           4,
		TotalAccesses:       1000,
		CoveredAccesses:     900,
		OracleSizeCount:     2,
		AnalyzedAt:          time.Now(),
	}

	ctx.SetFromResult(result)

	assert.Equal(t, 4, ctx.NumGroups)
}

func TestRunResult(t *testing.T) {
	result := &RunResult{
		RunUUID:             "uuid-1",
		Version:             "1.0.0",
		NodeCount:           42,
		EdgeCount:           84,
		PopularContextCount: 5,
		NumGroups:           6,
		TotalAccesses:       10_000,
		CoveredAccesses:     9_500,
		OracleSizeCount:     3,
	}

	assert.Equal(t, "uuid-1", result.RunUUID)
	assert.Equal(t, 42, result.NodeCount)
	assert.Equal(t, 84, result.EdgeCount)
	assert.Equal(t, 6, result.NumGroups)
	assert.Equal(t, int64(10_000), result.TotalAccesses)
}

func TestGroupingRequest(t *testing.T) {
	req := &GroupingRequest{
		RunID:      1,
		RunUUID:    "uuid-123",
		InputFile:  "run.tgf",
		OutputDir:  "./output",
		ResultFile: "result.json",
		UserName:   "testuser",
		COSBucket:  "bucket-1",
		RequestParams: RunParams{
			MaxStackDepth: 64,
			NumGroups:     8,
		},
	}

	assert.Equal(t, int64(1), req.RunID)
	assert.Equal(t, "uuid-123", req.RunUUID)
	assert.Equal(t, "run.tgf", req.InputFile)
	assert.Equal(t, 8, req.RequestParams.NumGroups)
}

func TestGroupingResponse(t *testing.T) {
	resp := &GroupingResponse{
		RunUUID:   "uuid-1",
		NumGroups: 3,
		OutputFiles: []OutputFile{
			{Name: "run.tgf", Path: "/out/run.tgf", Kind: "tgf"},
			{Name: "contexts.txt", Path: "/out/contexts.txt", Kind: "contexts"},
		},
	}

	assert.Equal(t, "uuid-1", resp.RunUUID)
	assert.Len(t, resp.OutputFiles, 2)
	assert.Equal(t, "tgf", resp.OutputFiles[0].Kind)
	assert.Empty(t, resp.Error)
}
