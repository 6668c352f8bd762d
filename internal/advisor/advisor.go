// Package advisor turns a completed grouping run's result and locality
// graph into human-readable grouping suggestions: hints about contexts
// that dominate access traffic, groups that stayed singletons because
// no edge ever touched them, and oracle coverage gaps, plus whatever
// data-driven rules an operator has stored in the grouping_rules table.
package advisor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/affinityprof/haloprof/pkg/model"
)

// Advisor generates grouping suggestions from a run's result and graph.
type Advisor struct {
	rules []Rule
}

// Rule represents a built-in suggestion rule.
type Rule struct {
	Type        string
	Name        string
	Description string
	Threshold   float64
	Check       RuleCheckFunc
}

// RuleCheckFunc is a function that checks if a rule applies.
type RuleCheckFunc func(ctx *RuleContext) []model.GroupingSuggestion

// RuleContext provides the data built-in and stored rules are evaluated
// against: the run's result summary, its locality graph, and any
// operator-supplied rules pulled from SuggestionRepository.GetGroupingRules.
type RuleContext struct {
	RunUUID string
	Result  *model.RunResult
	Nodes   []model.TGFNode
	Edges   []model.TGFEdge
	Rules   []model.GroupingRule
}

// NewAdvisor creates a new Advisor with default rules.
func NewAdvisor() *Advisor {
	return &Advisor{
		rules: defaultRules(),
	}
}

// NewAdvisorWithRules creates a new Advisor with custom rules.
func NewAdvisorWithRules(rules []Rule) *Advisor {
	return &Advisor{
		rules: rules,
	}
}

// Advise generates suggestions from both the built-in rules and any
// operator-supplied rules in ctx.Rules.
func (a *Advisor) Advise(ctx *RuleContext) []model.GroupingSuggestion {
	suggestions := make([]model.GroupingSuggestion, 0)

	for _, rule := range a.rules {
		if rule.Check != nil {
			suggestions = append(suggestions, rule.Check(ctx)...)
		}
	}

	suggestions = append(suggestions, checkStoredRules(ctx)...)

	for i := range suggestions {
		suggestions[i].RunUUID = ctx.RunUUID
	}

	return suggestions
}

// defaultRules returns the default set of built-in grouping rules.
func defaultRules() []Rule {
	return []Rule{
		{
			Type:        "hotspot",
			Name:        "dominant_context",
			Description: "Check for a single context responsible for most accesses",
			Threshold:   25.0,
			Check:       checkDominantContext,
		},
		{
			Type:        "coverage",
			Name:        "sparse_oracle",
			Description: "Check whether the size oracle covers enough of the node set",
			Threshold:   0.5,
			Check:       checkSparseOracle,
		},
		{
			Type:        "fragmentation",
			Name:        "singleton_contexts",
			Description: "Check for contexts that never merged into a larger group",
			Threshold:   0.5,
			Check:       checkSingletonContexts,
		},
	}
}

// checkDominantContext flags a context that alone accounts for a large
// share of total accesses - it benefits the most from a dedicated group
// since nothing else in the graph is as hot.
func checkDominantContext(ctx *RuleContext) []model.GroupingSuggestion {
	if ctx.Result == nil || ctx.Result.TotalAccesses == 0 || len(ctx.Nodes) == 0 {
		return nil
	}

	nodes := make([]model.TGFNode, len(ctx.Nodes))
	copy(nodes, ctx.Nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].AccessCount > nodes[j].AccessCount })

	top := nodes[0]
	if len(nodes) > 1 && nodes[1].AccessCount >= top.AccessCount {
		return nil
	}
	share := float64(top.AccessCount) / float64(ctx.Result.TotalAccesses) * 100
	if share < 25.0 {
		return nil
	}

	return []model.GroupingSuggestion{{
		Context:  int64(top.Context),
		Type:     "dominant_context",
		Severity: "warning",
		Suggestion: fmt.Sprintf(
			"context %d accounts for %s%% of all accesses; consider giving it a dedicated group instead of sharing one with colder contexts",
			top.Context, formatPercent(share)),
	}}
}

// checkSparseOracle flags runs where the size-keyed oracle table ends up
// covering too small a fraction of the tracked node set, usually because
// the run finished before enough distinct object sizes were observed.
func checkSparseOracle(ctx *RuleContext) []model.GroupingSuggestion {
	if ctx.Result == nil || ctx.Result.NodeCount == 0 {
		return nil
	}

	coverage := float64(ctx.Result.OracleSizeCount) / float64(ctx.Result.NodeCount)
	if coverage >= 0.5 {
		return nil
	}

	return []model.GroupingSuggestion{{
		Type:     "sparse_oracle",
		Severity: "info",
		Suggestion: fmt.Sprintf(
			"size oracle resolves only %s%% of tracked contexts; re-run with a longer trace to widen coverage",
			formatPercent(coverage*100)),
	}}
}

// checkSingletonContexts flags runs where most popular contexts never
// shared a nonzero-weight edge with another popular context - the
// affinity graph was too sparse for clustering to do meaningful work.
func checkSingletonContexts(ctx *RuleContext) []model.GroupingSuggestion {
	if ctx.Result == nil || ctx.Result.PopularContextCount == 0 {
		return nil
	}

	touched := make(map[model.AllocationContextID]bool, len(ctx.Edges)*2)
	for _, e := range ctx.Edges {
		if e.Weight == 0 {
			continue
		}
		touched[e.I] = true
		touched[e.J] = true
	}

	singletons := 0
	for _, n := range ctx.Nodes {
		if !touched[n.Context] {
			singletons++
		}
	}

	ratio := float64(singletons) / float64(ctx.Result.PopularContextCount)
	if ratio < 0.5 {
		return nil
	}

	return []model.GroupingSuggestion{{
		Type:     "singleton_contexts",
		Severity: "info",
		Suggestion: fmt.Sprintf(
			"%d of %d popular contexts (%s%%) share no affinity edge with another popular context; clustering has little to merge, consider raising --affinity-distance to capture more coaccess pairs",
			singletons, ctx.Result.PopularContextCount, formatPercent(ratio*100)),
	}}
}

// checkStoredRules evaluates every operator-supplied GroupingRule against
// the field of ctx.Result it names, firing rule.SuggestionContent as a
// suggestion when the named target crosses rule.Threshold.
func checkStoredRules(ctx *RuleContext) []model.GroupingSuggestion {
	if ctx.Result == nil || len(ctx.Rules) == 0 {
		return nil
	}

	suggestions := make([]model.GroupingSuggestion, 0)
	for _, rule := range ctx.Rules {
		value, ok := resolveRuleTarget(ctx.Result, rule.Target)
		if !ok {
			continue
		}
		if !evaluateOperation(rule.Operation, value, rule.Threshold) {
			continue
		}
		suggestions = append(suggestions, model.GroupingSuggestion{
			Type:       rule.Type,
			Severity:   "info",
			Suggestion: rule.SuggestionContent,
		})
	}
	return suggestions
}

// resolveRuleTarget looks up a named field of a RunResult for rule
// evaluation; unrecognized targets are skipped rather than treated as an
// error so that rules referencing a future field degrade gracefully.
func resolveRuleTarget(result *model.RunResult, target string) (float64, bool) {
	switch target {
	case "node_count":
		return float64(result.NodeCount), true
	case "edge_count":
		return float64(result.EdgeCount), true
	case "popular_context_count":
		return float64(result.PopularContextCount), true
	case "num_groups":
		return float64(result.NumGroups), true
	case "oracle_size_count":
		return float64(result.OracleSizeCount), true
	case "total_accesses":
		return float64(result.TotalAccesses), true
	case "covered_ratio":
		if result.TotalAccesses == 0 {
			return 0, true
		}
		return float64(result.CoveredAccesses) / float64(result.TotalAccesses), true
	default:
		return 0, false
	}
}

// evaluateOperation applies a stored rule's comparison operator.
func evaluateOperation(operation string, value, threshold float64) bool {
	switch operation {
	case "gt":
		return value > threshold
	case "gte":
		return value >= threshold
	case "lt":
		return value < threshold
	case "lte":
		return value <= threshold
	case "eq":
		return value == threshold
	default:
		return false
	}
}

// formatPercent formats a percentage value with up to 2 decimal places,
// trimming trailing zeros.
func formatPercent(pct float64) string {
	s := strconv.FormatFloat(pct, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
