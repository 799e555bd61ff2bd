// Package services runs the periodic maintenance jobs of the server.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"projectbrain/backend/internal/graph"
	"projectbrain/backend/internal/notify"
	"projectbrain/backend/pkg/logger"
)

const (
	jobOrphanCleanup = "orphan_cleanup"
	jobTimeout       = 10 * time.Minute
)

// OrphanCleaner removes graphs whose project no longer exists
type OrphanCleaner interface {
	CleanupOrphans(ctx context.Context) (*graph.CleanupResult, error)
}

// Scheduler runs maintenance jobs on cron schedules (standard five-field
// syntax or descriptors such as "@daily").
type Scheduler struct {
	cron    *cron.Cron
	cleaner OrphanCleaner
	sink    notify.Sink
	jobs    map[string]cron.EntryID
	mu      sync.Mutex
	wg      sync.WaitGroup
	running bool
	logger  *zap.Logger
}

// NewScheduler creates a scheduler. sink may be nil.
func NewScheduler(cleaner OrphanCleaner, sink notify.Sink) *Scheduler {
	if sink == nil {
		sink = notify.Discard{}
	}
	return &Scheduler{
		cron:    cron.New(),
		cleaner: cleaner,
		sink:    sink,
		jobs:    make(map[string]cron.EntryID),
		logger:  logger.Named("scheduler"),
	}
}

// ScheduleOrphanCleanup registers the orphan graph cleanup job. An empty
// spec leaves it unscheduled.
func (s *Scheduler) ScheduleOrphanCleanup(spec string) error {
	if spec == "" {
		return nil
	}
	return s.add(jobOrphanCleanup, spec, func(ctx context.Context) error {
		_, err := s.RunOrphanCleanup(ctx)
		return err
	})
}

func (s *Scheduler) add(name, spec string, job func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.runJob(name, job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.jobs[name] = id
	s.logger.Info("Scheduled job", zap.String("job", name), zap.String("schedule", spec))
	return nil
}

func (s *Scheduler) runJob(name string, job func(ctx context.Context) error) {
	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := job(ctx); err != nil {
		s.logger.Error("Scheduled job failed",
			zap.String("job", name),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		return
	}
	s.logger.Debug("Scheduled job completed",
		zap.String("job", name),
		zap.Duration("duration", time.Since(start)))
}

// RunOrphanCleanup performs one cleanup pass and announces what it removed
func (s *Scheduler) RunOrphanCleanup(ctx context.Context) (*graph.CleanupResult, error) {
	res, err := s.cleaner.CleanupOrphans(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Deleted) > 0 || len(res.Failed) > 0 {
		s.sink.Notify(ctx, notify.NewEvent(notify.EventGraphCleanup, "", "", map[string]interface{}{
			"deleted": res.Deleted,
			"failed":  len(res.Failed),
		}))
	}
	s.logger.Info("Orphan graph cleanup finished",
		zap.Int("deleted", len(res.Deleted)),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

// Jobs returns the scheduled job names with their next run time
func (s *Scheduler) Jobs() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.jobs))
	for name, id := range s.jobs {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop halts scheduling and waits for running jobs until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopped := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
	return nil
}
