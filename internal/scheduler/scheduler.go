// Package scheduler runs one recurring job per source on a fixed interval,
// with single-flight execution per job and a misfire grace period.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/feedforge/newsetl/internal/clock"
	"github.com/feedforge/newsetl/internal/metrics"
)

// Job is one recurring unit of work. A tick that arrives while the
// previous run is still executing, or later than Grace past its due time,
// is skipped rather than run late or concurrently.
type Job struct {
	ID       string
	Interval time.Duration
	Grace    time.Duration
	Run      func(ctx context.Context)
}

type scheduledJob struct {
	Job

	inFlight atomic.Bool
}

// Scheduler drives registered jobs on their intervals.
type Scheduler struct {
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	jobs    []*scheduledJob
	ids     map[string]struct{}
	cancel  context.CancelFunc
	running bool

	wg sync.WaitGroup
}

// New builds a Scheduler on the given clock.
func New(clk clock.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		clock:  clk,
		logger: logger,
		ids:    make(map[string]struct{}),
	}
}

// Register adds a job. Registration fails on a duplicate id or a
// non-positive interval, and is rejected once the scheduler has started.
func (s *Scheduler) Register(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.ID)
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run function is required", job.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("job %s: scheduler already started", job.ID)
	}
	if _, dup := s.ids[job.ID]; dup {
		return fmt.Errorf("job %s: already registered", job.ID)
	}
	s.ids[job.ID] = struct{}{}
	s.jobs = append(s.jobs, &scheduledJob{Job: job})
	return nil
}

// Start launches one goroutine per registered job. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(job *scheduledJob) {
			defer s.wg.Done()
			s.runLoop(ctx, job)
		}(job)
		s.logger.Info("scheduled job",
			zap.String("job", job.ID),
			zap.Duration("interval", job.Interval))
	}
}

// Stop cancels all job loops without waiting for in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop(ctx context.Context, job *scheduledJob) {
	next := s.clock.Now().Add(job.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(next.Sub(s.clock.Now())):
		}

		now := s.clock.Now()
		late := now.Sub(next)
		// Bounded catch-up: however late we are, schedule exactly one
		// next tick in the future instead of replaying missed ones.
		for !next.After(now) {
			next = next.Add(job.Interval)
		}

		if late > job.Grace {
			s.logger.Warn("job misfired past grace period, skipping",
				zap.String("job", job.ID), zap.Duration("late", late))
			metrics.ObserveSchedulerMisfire(job.ID)
			continue
		}
		if !job.inFlight.CompareAndSwap(false, true) {
			s.logger.Info("previous run still in flight, skipping",
				zap.String("job", job.ID))
			metrics.ObserveSchedulerMisfire(job.ID)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer job.inFlight.Store(false)
			metrics.ObserveSchedulerRun(job.ID)
			job.Run(ctx)
		}()
	}
}
