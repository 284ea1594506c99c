// Package jobs runs the periodic background work of the settlement service:
// the claims sweep, pool stats refresh and archival of finalized records.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ammSettle/internal/ledger"
	"ammSettle/internal/metrics"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own interval until the context ends.
type Scheduler struct {
	jobs    []Job
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewScheduler(logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{log: logger, metrics: m}
}

// Add registers a job. Jobs with a non-positive interval are ignored.
func (s *Scheduler) Add(job Job) {
	if job.Interval <= 0 || job.Run == nil {
		s.log.Info("job disabled", zap.String("job", job.Name))
		return
	}
	s.jobs = append(s.jobs, job)
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, job := range s.jobs {
		names = append(names, job.Name)
	}
	return names
}

// Run blocks until ctx is cancelled. A failing tick is logged and the job
// keeps its schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			return s.loop(ctx, job)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, job Job) error {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	s.log.Info("job started", zap.String("job", job.Name), zap.Duration("interval", job.Interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.Tick(ctx, job); err != nil && ctx.Err() == nil {
			s.log.Warn("job tick failed", zap.String("job", job.Name), zap.Error(err))
		}
	}
}

// Tick runs job once. A ledger commit failure raised inside the job is
// returned as an error instead of unwinding the scheduler.
func (s *Scheduler) Tick(ctx context.Context, job Job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			fatal, ok := r.(*ledger.FatalError)
			if !ok {
				panic(r)
			}
			s.log.Error("job aborted by storage failure", zap.String("job", job.Name), zap.Error(fatal))
			err = fmt.Errorf("job %s: %w", job.Name, fatal)
		}
		s.metrics.ObserveJob(job.Name, time.Since(start).Seconds(), err)
	}()
	return job.Run(ctx)
}
