// Package scheduler triggers sync passes on an interval or cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/drallgood/audiohardshelf/internal/logger"
)

// ErrEmptySchedule is returned for a blank schedule.
var ErrEmptySchedule = errors.New("schedule is empty")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule turns a schedule into a cron spec. It accepts bare minutes
// ("60"), a Go duration ("30m", "1h30m") or a 5-field cron expression.
func ParseSchedule(schedule string) (string, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return "", ErrEmptySchedule
	}

	if minutes, err := strconv.Atoi(schedule); err == nil {
		if minutes <= 0 {
			return "", fmt.Errorf("interval must be positive, got %d minutes", minutes)
		}
		return fmt.Sprintf("@every %dm", minutes), nil
	}

	if d, err := time.ParseDuration(schedule); err == nil {
		if d < time.Second {
			return "", fmt.Errorf("interval must be at least 1s, got %s", d)
		}
		return "@every " + d.String(), nil
	}

	if _, err := parser.Parse(schedule); err != nil {
		return "", fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return schedule, nil
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context)

// Scheduler runs a Job on a schedule, never overlapping itself.
type Scheduler struct {
	spec string
	job  Job
	log  *logger.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	isSyncing bool
}

// New creates a stopped Scheduler.
func New(schedule string, job Job, log *logger.Logger) (*Scheduler, error) {
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Get()
	}
	return &Scheduler{
		spec: spec,
		job:  job,
		log:  log.With(map[string]interface{}{"component": "scheduler"}),
		cron: cron.New(cron.WithParser(parser)),
	}, nil
}

// Spec returns the normalized cron spec.
func (s *Scheduler) Spec() string { return s.spec }

// Start schedules the job. The job's context is derived from ctx and is
// cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	entryID, err := s.cron.AddFunc(s.spec, func() { s.RunNow() })
	if err != nil {
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}
	s.entryID = entryID
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	fields := map[string]interface{}{"schedule": s.spec}
	for _, entry := range s.cron.Entries() {
		if entry.ID == s.entryID {
			fields["next_run"] = entry.Next.Format(time.RFC3339)
		}
	}
	s.log.Info("Scheduler started", fields)
	return nil
}

// Stop stops scheduling, cancels a running job and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.cron.Remove(s.entryID)
	s.isRunning = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped", nil)
}

// RunNow runs the job synchronously. It returns false without running when
// a run is already in progress.
func (s *Scheduler) RunNow() bool {
	s.mu.Lock()
	if s.isSyncing {
		s.mu.Unlock()
		s.log.Warn("Skipping scheduled sync, previous run still in progress", nil)
		return false
	}
	s.isSyncing = true
	ctx := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isSyncing = false
		s.mu.Unlock()
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	s.job(ctx)
	return true
}

// IsRunning reports whether the scheduler is started.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// IsSyncing reports whether a job is running.
func (s *Scheduler) IsSyncing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isSyncing
}

// NextRun returns when the job runs next, or nil when stopped.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}
	for _, entry := range s.cron.Entries() {
		if entry.ID == s.entryID {
			t := entry.Next
			return &t
		}
	}
	return nil
}
