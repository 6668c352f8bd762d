package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affinityprof/haloprof/pkg/model"
)

func TestNewAdvisor(t *testing.T) {
	advisor := NewAdvisor()

	assert.NotNil(t, advisor)
	assert.NotEmpty(t, advisor.rules)
}

func TestNewAdvisorWithRules(t *testing.T) {
	rules := []Rule{
		{Type: "test", Name: "test_rule"},
	}

	advisor := NewAdvisorWithRules(rules)

	assert.Len(t, advisor.rules, 1)
	assert.Equal(t, "test_rule", advisor.rules[0].Name)
}

func TestAdvisor_Advise_DominantContext(t *testing.T) {
	advisor := NewAdvisor()

	ctx := &RuleContext{
		RunUUID: "run-1",
		Result:  &model.RunResult{TotalAccesses: 1000},
		Nodes: []model.TGFNode{
			{Context: 1, AccessCount: 400},
			{Context: 2, AccessCount: 100},
			{Context: 3, AccessCount: 50},
		},
	}

	suggestions := advisor.Advise(ctx)

	var found bool
	for _, s := range suggestions {
		if s.Type == "dominant_context" {
			found = true
			assert.Equal(t, int64(1), s.Context)
			assert.Equal(t, "run-1", s.RunUUID)
			assert.Contains(t, s.Suggestion, "context 1")
		}
	}
	assert.True(t, found, "expected a dominant context suggestion")
}

func TestAdvisor_Advise_SparseOracle(t *testing.T) {
	advisor := NewAdvisor()

	ctx := &RuleContext{
		Result: &model.RunResult{NodeCount: 100, OracleSizeCount: 10},
	}

	suggestions := advisor.Advise(ctx)

	var found bool
	for _, s := range suggestions {
		if s.Type == "sparse_oracle" {
			found = true
		}
	}
	assert.True(t, found, "expected a sparse oracle suggestion")
}

func TestAdvisor_Advise_SingletonContexts(t *testing.T) {
	advisor := NewAdvisor()

	ctx := &RuleContext{
		Result: &model.RunResult{PopularContextCount: 4},
		Nodes: []model.TGFNode{
			{Context: 1, AccessCount: 10},
			{Context: 2, AccessCount: 10},
			{Context: 3, AccessCount: 10},
			{Context: 4, AccessCount: 10},
		},
		Edges: []model.TGFEdge{
			{I: 2, J: 1, Weight: 5}, // only contexts 1 and 2 touch an edge
		},
	}

	suggestions := advisor.Advise(ctx)

	var found bool
	for _, s := range suggestions {
		if s.Type == "singleton_contexts" {
			found = true
			assert.Contains(t, s.Suggestion, "2 of 4")
		}
	}
	assert.True(t, found, "expected a singleton contexts suggestion")
}

func TestAdvisor_Advise_NoSuggestions(t *testing.T) {
	advisor := NewAdvisor()

	ctx := &RuleContext{
		Result: &model.RunResult{
			TotalAccesses:        1000,
			NodeCount:            10,
			OracleSizeCount:      10,
			PopularContextCount: 2,
		},
		Nodes: []model.TGFNode{
			{Context: 1, AccessCount: 500},
			{Context: 2, AccessCount: 500},
		},
		Edges: []model.TGFEdge{
			{I: 2, J: 1, Weight: 5},
		},
	}

	suggestions := advisor.Advise(ctx)
	assert.Empty(t, suggestions)
}

func TestAdvisor_Advise_NilResult(t *testing.T) {
	advisor := NewAdvisor()

	ctx := &RuleContext{}
	suggestions := advisor.Advise(ctx)
	assert.Empty(t, suggestions)
}

func TestAdvisor_Advise_StoredRules(t *testing.T) {
	advisor := NewAdvisor()

	ctx := &RuleContext{
		RunUUID: "run-2",
		Result: &model.RunResult{
			TotalAccesses:        1000,
			NodeCount:            10,
			OracleSizeCount:      10,
			PopularContextCount: 2,
			NumGroups:            8,
		},
		Nodes: []model.TGFNode{
			{Context: 1, AccessCount: 500},
			{Context: 2, AccessCount: 500},
		},
		Edges: []model.TGFEdge{
			{I: 2, J: 1, Weight: 5},
		},
		Rules: []model.GroupingRule{
			{
				Type:              "too_many_groups",
				Operation:         "gt",
				Target:            "num_groups",
				Threshold:         4.0,
				SuggestionContent: "consider lowering the group count",
			},
		},
	}

	suggestions := advisor.Advise(ctx)

	require.Len(t, suggestions, 1)
	assert.Equal(t, "too_many_groups", suggestions[0].Type)
	assert.Equal(t, "run-2", suggestions[0].RunUUID)
	assert.Equal(t, "consider lowering the group count", suggestions[0].Suggestion)
}

func TestCheckStoredRules_UnknownTargetSkipped(t *testing.T) {
	ctx := &RuleContext{
		Result: &model.RunResult{NodeCount: 10},
		Rules: []model.GroupingRule{
			{Target: "not_a_real_field", Operation: "gt", Threshold: 0},
		},
	}

	suggestions := checkStoredRules(ctx)
	assert.Empty(t, suggestions)
}

func TestFormatPercent(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{10.0, "10"},
		{10.5, "10.5"},
		{10.55, "10.55"},
		{0.0, "0"},
		{0.5, "0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatPercent(tt.input))
		})
	}
}
