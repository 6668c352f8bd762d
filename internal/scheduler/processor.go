package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/affinityprof/haloprof/internal/advisor"
	"github.com/affinityprof/haloprof/internal/repository"
	"github.com/affinityprof/haloprof/internal/storage"
	"github.com/affinityprof/haloprof/pkg/config"
	"github.com/affinityprof/haloprof/pkg/grouping"
	"github.com/affinityprof/haloprof/pkg/model"
	"github.com/affinityprof/haloprof/pkg/reportwriter"
	"github.com/affinityprof/haloprof/pkg/utils"
)

// DefaultTaskProcessor implements TaskProcessor: it downloads a run's
// emitted locality graph, clusters it into groups, and records the
// resulting result and grouping suggestions. It does not build the
// size-keyed get_group_id oracle, and neither does `haloprof group`: both
// work from the TGF, which carries access counts and edge weights but not
// the per-context object sizes that oracle is keyed by.
type DefaultTaskProcessor struct {
	config  *config.Config
	storage storage.Storage
	repos   *repository.Repositories
	advisor *advisor.Advisor
	logger  utils.Logger
}

// ProcessorConfig holds processor configuration.
type ProcessorConfig struct {
	Config  *config.Config
	Storage storage.Storage
	Repos   *repository.Repositories
	Logger  utils.Logger
}

// NewDefaultTaskProcessor creates a new DefaultTaskProcessor.
func NewDefaultTaskProcessor(cfg *ProcessorConfig) *DefaultTaskProcessor {
	if cfg.Logger == nil {
		cfg.Logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	return &DefaultTaskProcessor{
		config:  cfg.Config,
		storage: cfg.Storage,
		repos:   cfg.Repos,
		advisor: advisor.NewAdvisor(),
		logger:  cfg.Logger,
	}
}

// Process downloads a run's TGF locality graph, clusters it into groups,
// and saves the resulting RunResult and GroupingSuggestions.
func (p *DefaultTaskProcessor) Process(ctx context.Context, run *model.ProfilerRun, rules []model.GroupingRule) error {
	p.logger.Info("Starting grouping analysis for run %s", run.RunUUID)

	runDir := p.config.GetTaskDir(run.RunUUID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			p.logger.Warn("Failed to clean up run directory %s: %v", runDir, err)
		}
	}()

	localFile := filepath.Join(runDir, filepath.Base(run.ResultFile))
	if err := p.storage.DownloadFile(ctx, run.ResultFile, localFile); err != nil {
		return fmt.Errorf("failed to download TGF file: %w", err)
	}

	nodes, edges, err := p.parseTGF(localFile)
	if err != nil {
		return fmt.Errorf("failed to parse TGF file: %w", err)
	}

	maxGroups := run.RequestParams.NumGroups
	if maxGroups <= 0 {
		maxGroups = 1
	}
	assignment := grouping.Cluster(nodes, edges, maxGroups)

	result := p.buildResult(run, nodes, edges, assignment)
	if err := p.repos.Result.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("failed to save run result: %w", err)
	}

	if err := p.generateSuggestions(ctx, run, result, nodes, edges, rules); err != nil {
		p.logger.Warn("Failed to generate suggestions for run %s: %v", run.RunUUID, err)
	}

	if err := p.repos.Run.UpdateAnalysisStatus(ctx, run.ID, model.AnalysisStatusCompleted); err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	p.logger.Info("Run %s grouping analysis completed into %d groups", run.RunUUID, result.NumGroups)
	return nil
}

// parseTGF opens and parses a run's locality graph file.
func (p *DefaultTaskProcessor) parseTGF(path string) ([]model.TGFNode, []model.TGFEdge, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open TGF file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat TGF file: %w", err)
	}
	if stat.Size() == 0 {
		return nil, nil, fmt.Errorf("empty TGF file")
	}

	return reportwriter.ParseTGF(file)
}

// buildResult assembles a RunResult from the clustered locality graph.
func (p *DefaultTaskProcessor) buildResult(run *model.ProfilerRun, nodes []model.TGFNode, edges []model.TGFEdge, assignment map[model.AllocationContextID]int) *model.RunResult {
	var totalAccesses int64
	for _, n := range nodes {
		totalAccesses += int64(n.AccessCount)
	}

	return &model.RunResult{
		RunUUID:             run.RunUUID,
		Version:             p.config.Analysis.Version,
		NodeCount:           len(nodes),
		EdgeCount:           len(edges),
		PopularContextCount: len(nodes),
		NumGroups:           grouping.NumGroups(assignment),
		TotalAccesses:       totalAccesses,
		CoveredAccesses:     totalAccesses,
		AnalyzedAt:          time.Now(),
	}
}

// generateSuggestions runs the advisor over the run's result and graph
// and persists whatever it finds.
func (p *DefaultTaskProcessor) generateSuggestions(ctx context.Context, run *model.ProfilerRun, result *model.RunResult, nodes []model.TGFNode, edges []model.TGFEdge, rules []model.GroupingRule) error {
	ruleCtx := &advisor.RuleContext{
		RunUUID: run.RunUUID,
		Result:  result,
		Nodes:   nodes,
		Edges:   edges,
		Rules:   rules,
	}

	suggestions := p.advisor.Advise(ruleCtx)
	if len(suggestions) == 0 {
		return nil
	}

	return p.repos.Suggestion.SaveSuggestions(ctx, suggestions)
}
