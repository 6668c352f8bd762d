// Package scheduler provides run scheduling and worker pool management:
// it polls for profiler runs awaiting grouping analysis, locks each one
// against concurrent pickup, and dispatches it to a bounded worker pool.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/affinityprof/haloprof/pkg/config"
	"github.com/affinityprof/haloprof/pkg/model"
	"github.com/affinityprof/haloprof/pkg/utils"
)

// TaskProcessor defines the interface for processing a single run.
type TaskProcessor interface {
	Process(ctx context.Context, run *model.ProfilerRun, rules []model.GroupingRule) error
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	PollInterval  time.Duration // How often to poll for new runs
	WorkerCount   int           // Number of concurrent workers
	PrioritySlots int           // Reserved slots for high priority runs
	TaskBatchSize int           // Max runs to fetch per poll
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PollInterval:  2 * time.Second,
		WorkerCount:   5,
		PrioritySlots: 2,
		TaskBatchSize: 10,
	}
}

// FromConfig creates scheduler config from application config.
func FromConfig(cfg *config.SchedulerConfig) *SchedulerConfig {
	return &SchedulerConfig{
		PollInterval:  time.Duration(cfg.PollInterval) * time.Second,
		WorkerCount:   cfg.WorkerCount,
		PrioritySlots: cfg.PrioritySlots,
		TaskBatchSize: cfg.TaskBatchSize,
	}
}

// runItem pairs a fetched run with its scheduling priority.
type runItem struct {
	run      *model.ProfilerRun
	priority int
}

// Scheduler manages run scheduling and the worker pool over it.
type Scheduler struct {
	config    *SchedulerConfig
	fetcher   RunFetcher
	processor TaskProcessor
	logger    utils.Logger

	workerPool chan struct{} // Semaphore for worker count
	runQueue   chan runItem  // Queue of runs awaiting a worker
	wg         sync.WaitGroup
	mu         sync.Mutex
	rules      []model.GroupingRule // Cached grouping rules

	running bool
	stopCh  chan struct{}
}

// New creates a new Scheduler.
func New(config *SchedulerConfig, fetcher RunFetcher, processor TaskProcessor, logger utils.Logger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	return &Scheduler{
		config:     config,
		fetcher:    fetcher,
		processor:  processor,
		logger:     logger,
		workerPool: make(chan struct{}, config.WorkerCount),
		runQueue:   make(chan runItem, config.TaskBatchSize*2),
		stopCh:     make(chan struct{}),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler with %d workers", s.config.WorkerCount)

	s.running = true

	for i := 0; i < s.config.WorkerCount; i++ {
		s.workerPool <- struct{}{}
	}

	s.refreshRules(ctx)

	go s.pollLoop(ctx)
	go s.processLoop(ctx)

	return nil
}

// Stop stops the scheduler gracefully.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler...")
	s.running = false
	close(s.stopCh)

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// shouldAcceptRun determines if a run should be accepted given current
// worker availability and its priority.
func (s *Scheduler) shouldAcceptRun(priority int) bool {
	activeWorkers := s.config.WorkerCount - len(s.workerPool)
	reservedSlots := s.config.WorkerCount - s.config.PrioritySlots

	if priority > 0 {
		return activeWorkers < s.config.WorkerCount
	}
	return activeWorkers < reservedSlots
}

// processLoop processes queued runs.
func (s *Scheduler) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case item := <-s.runQueue:
			select {
			case <-s.workerPool:
				s.wg.Add(1)
				go s.processRun(ctx, item.run)
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}
}

// processRun processes a single run.
func (s *Scheduler) processRun(ctx context.Context, run *model.ProfilerRun) {
	defer func() {
		s.workerPool <- struct{}{}
		s.wg.Done()
	}()

	s.logger.Info("Processing run %d (UUID: %s)", run.ID, run.RunUUID)

	s.mu.Lock()
	rules := s.rules
	s.mu.Unlock()

	startTime := time.Now()
	err := s.processor.Process(ctx, run, rules)
	duration := time.Since(startTime)

	if err != nil {
		s.logger.Error("Run %d failed after %v: %v", run.ID, duration, err)
		return
	}

	s.logger.Info("Run %d completed successfully in %v", run.ID, duration)
}

// pollLoop periodically fetches pending runs, locks each one, and
// enqueues it for processing.
func (s *Scheduler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	rulesTicker := time.NewTicker(30 * time.Second)
	defer rulesTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-rulesTicker.C:
			s.refreshRules(ctx)
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce fetches and enqueues one batch of pending runs.
func (s *Scheduler) pollOnce(ctx context.Context) {
	runs, err := s.fetcher.FetchPendingRuns(ctx, s.config.TaskBatchSize)
	if err != nil {
		s.logger.Warn("Failed to fetch pending runs: %v", err)
		return
	}

	for _, run := range runs {
		locked, err := s.fetcher.LockRun(ctx, run.ID)
		if err != nil {
			s.logger.Warn("Failed to lock run %d: %v", run.ID, err)
			continue
		}
		if !locked {
			continue
		}

		priority := 0
		if run.IsHighPriority() {
			priority = 1
		}

		if !s.shouldAcceptRun(priority) {
			s.logger.Debug("Skipping run %d due to priority constraints", run.ID)
			continue
		}

		select {
		case s.runQueue <- runItem{run: run, priority: priority}:
			s.logger.Info("Queued run %d (UUID: %s)", run.ID, run.RunUUID)
		default:
			s.logger.Warn("Run queue full, leaving run %d locked for the next poll", run.ID)
		}
	}
}

// refreshRules fetches and caches grouping rules.
func (s *Scheduler) refreshRules(ctx context.Context) {
	if s.fetcher == nil {
		return
	}

	rules, err := s.fetcher.FetchGroupingRules(ctx)
	if err != nil {
		s.logger.Warn("Failed to refresh grouping rules: %v", err)
		return
	}

	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()

	s.logger.Debug("Refreshed %d grouping rules", len(rules))
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		ActiveWorkers: s.config.WorkerCount - len(s.workerPool),
		TotalWorkers:  s.config.WorkerCount,
		QueuedTasks:   len(s.runQueue),
		Running:       s.running,
	}
}

// SchedulerStats holds scheduler statistics.
type SchedulerStats struct {
	ActiveWorkers int  `json:"active_workers"`
	TotalWorkers  int  `json:"total_workers"`
	QueuedTasks   int  `json:"queued_tasks"`
	Running       bool `json:"running"`
}
