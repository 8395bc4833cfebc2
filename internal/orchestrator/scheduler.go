// Package orchestrator implements the Execution Orchestrator (§4.1): the
// cron-driven Scheduler, the dispatch loop that claims queued Jobs, the
// Worker Pool that runs them, and the Execution state machine.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/logger"
)

const (
	tickInterval     = 10 * time.Second
	dueClaimBatch    = 100
	maxCoalescedFire = 1 // a schedule that missed N ticks fires once, not N times
)

// Scheduler polls due Schedules and turns each fired tick into a queued Job,
// grounded on crawler/internal/job/db_scheduler.go's ticker-plus-reload shape
// but driven from the database rather than an in-process cron.Cron instance,
// since next_run_at must survive a process restart (§4.1.4).
type Scheduler struct {
	log        logger.Logger
	schedules  *database.ScheduleRepository
	jobs       *database.JobRepository
	cronParser cron.Parser

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(log logger.Logger, schedules *database.ScheduleRepository, jobs *database.JobRepository) *Scheduler {
	return &Scheduler{
		log:        log,
		schedules:  schedules,
		jobs:       jobs,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(s.ctx); err != nil {
				s.log.Error("scheduler tick failed", logger.Error(err))
			}
		}
	}
}

// tick claims every due schedule, enqueues its Job, and advances
// next_run_at — satisfying §8 invariant 7 (next_run_at > now after a tick)
// and the boundary property that a schedule fires exactly once per period
// even when the tick itself runs early or late.
func (s *Scheduler) tick(ctx context.Context) error {
	now := time.Now()
	due, err := s.schedules.DueForTick(ctx, now, dueClaimBatch)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	for _, sched := range due {
		if fireErr := s.fire(ctx, sched, now); fireErr != nil {
			s.log.Error("failed to fire schedule",
				logger.String("schedule_uuid", sched.UUID), logger.Error(fireErr))
		}
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, sched *domain.Schedule, now time.Time) error {
	schedule, err := s.cronParser.Parse(sched.CronExpression)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", sched.CronExpression, err)
	}

	job := &domain.Job{
		TaskID:             sched.TaskID,
		Input:              domain.RawJSON(marshalInputTemplate(sched.InputTemplate)),
		Priority:           domain.PriorityNormal,
		ScheduleID:         &sched.ID,
		OutputDestinations: sched.OutputDestinations,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue scheduled job: %w", err)
	}

	nextRun := schedule.Next(now)

	missedRuns := sched.MissedRuns
	if !sched.NextRunAt.IsZero() {
		// A schedule that was due for more than one period when we finally
		// got to it coalesces into a single fire; every later period that
		// has also come due by now is counted as skipped, not individually
		// replayed.
		for t := schedule.Next(sched.NextRunAt); !t.IsZero() && !t.After(now); t = schedule.Next(t) {
			missedRuns++
		}
	}

	return s.schedules.RecordFired(ctx, sched.ID, now, nextRun, missedRuns)
}

func marshalInputTemplate(tmpl domain.JSONDoc) []byte {
	if len(tmpl) == 0 {
		return []byte("{}")
	}
	v, err := tmpl.Value()
	if err != nil {
		return []byte("{}")
	}
	b, ok := v.([]byte)
	if !ok {
		return []byte("{}")
	}
	return b
}
