package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/metrics"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("poll run already in progress")

type Runner interface {
	Run(ctx context.Context, term string) (Result, error)
}

// Purger removes expired state after a run.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type SchedulerConfig struct {
	Interval  time.Duration
	RunBudget time.Duration
	// Term scopes scheduled runs to one term; empty means all terms.
	Term string
}

// Scheduler invokes the poller on a fixed cadence. At most one run is active
// per process; ticks that land on an active run are skipped.
type Scheduler struct {
	runner Runner
	purger Purger
	config SchedulerConfig
	logger *zap.Logger

	mu sync.Mutex
}

func NewScheduler(runner Runner, purger Purger, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RunBudget <= 0 || cfg.RunBudget > cfg.Interval {
		cfg.RunBudget = cfg.Interval
	}
	return &Scheduler{
		runner: runner,
		purger: purger,
		config: cfg,
		logger: logger,
	}
}

// Start runs immediately and then on every tick until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.RunOnce(ctx, "")
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Warn("skipping tick, previous run still active")
	}
}

// RunOnce performs one bounded run. An empty term falls back to the
// configured term.
func (s *Scheduler) RunOnce(ctx context.Context, term string) (Result, error) {
	if !s.mu.TryLock() {
		return Result{}, ErrRunInProgress
	}
	defer s.mu.Unlock()

	if term == "" {
		term = s.config.Term
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, s.config.RunBudget)
	res, err := s.runner.Run(runCtx, term)
	cancel()

	outcome := "ok"
	switch {
	case err != nil && res.Terms == 0:
		outcome = "failed"
	case err != nil || res.Truncated || res.FetchFailures > 0 || res.PublishFailures > 0 || res.StoreFailures > 0:
		outcome = "partial"
	}
	metrics.RecordPollerRun(outcome, time.Since(start))

	if err != nil {
		s.logger.Error("poll run failed", zap.String("term", term), zap.Error(err))
	}

	if s.purger != nil && ctx.Err() == nil {
		purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if _, perr := s.purger.PurgeExpired(purgeCtx); perr != nil {
			s.logger.Warn("purge expired rows failed", zap.Error(perr))
		}
		cancel()
	}

	return res, err
}
