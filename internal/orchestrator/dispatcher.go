package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/logger"
	"github.com/northcloud/jobforge/internal/observability"
)

const (
	dispatchPollInterval = 500 * time.Millisecond
	dispatchClaimBatch   = 10
	staleLeaseSweep      = 30 * time.Second
	staleAfterSeconds    = 120
)

// Deliverer hands a completed Execution's output to the Output Delivery
// Pipeline (§4.3). Declared here, implemented by internal/delivery, so the
// dispatcher doesn't import delivery's webhook/filesystem/object-store deps.
type Deliverer interface {
	Deliver(ctx context.Context, exec *domain.Execution, destinations domain.DestinationList)
}

// Dispatcher claims queued Jobs (the FOR UPDATE SKIP LOCKED dequeue in
// JobRepository.ClaimNext), hands each to an Idle worker, and drives the
// resulting Execution through the state machine, adapting
// crawler/internal/job/db_scheduler.go's executeJob goroutine-per-unit-of-work
// shape to a worker-pool-backed execution path.
type Dispatcher struct {
	log        logger.Logger
	jobs       *database.JobRepository
	tasks      *database.TaskRepository
	executions *database.ExecutionRepository
	pool       *WorkerPool
	deliverer  Deliverer
	sm         StateMachine
	leaseID    string
	tracer     trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(
	log logger.Logger,
	jobs *database.JobRepository,
	tasks *database.TaskRepository,
	executions *database.ExecutionRepository,
	pool *WorkerPool,
	deliverer Deliverer,
) *Dispatcher {
	return &Dispatcher{
		log:        log,
		jobs:       jobs,
		tasks:      tasks,
		executions: executions,
		pool:       pool,
		deliverer:  deliverer,
		leaseID:    uuid.NewString(),
		tracer:     observability.Tracer(),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(2)
	go d.pollLoop()
	go d.leaseSweepLoop()
}

func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) pollLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(dispatchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.claimAndRun(d.ctx)
		}
	}
}

// leaseSweepLoop reclaims jobs whose lease holder crashed mid-execution
// (§8: a worker_crash must not strand a job in processing forever).
func (d *Dispatcher) leaseSweepLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(staleLeaseSweep)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.jobs.ResetStale(d.ctx, staleAfterSeconds); err != nil {
				d.log.Error("stale lease sweep failed", logger.Error(err))
			} else if n > 0 {
				d.log.Warn("reclaimed stale leased jobs", logger.Int64("count", n))
			}
		}
	}
}

func (d *Dispatcher) claimAndRun(ctx context.Context) {
	jobs, err := d.jobs.ClaimNext(ctx, dispatchClaimBatch, d.leaseID)
	if err != nil {
		d.log.Error("claim next jobs failed", logger.Error(err))
		return
	}
	for _, job := range jobs {
		job := job
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.run(ctx, job)
		}()
	}
}

func (d *Dispatcher) run(ctx context.Context, job *domain.Job) {
	log := d.log.With(
		logger.String("job_uuid", job.UUID),
		logger.String("correlation_id", job.CorrelationID),
	)

	task, err := d.tasks.GetByID(ctx, job.TaskID)
	if err != nil {
		log.Error("job references unknown task", logger.Error(err))
		_ = d.jobs.MarkStatus(ctx, job.ID, domain.JobFailed)
		return
	}

	exec := &domain.Execution{
		JobID:         job.ID,
		TaskID:        task.ID,
		Status:        domain.ExecutionPending,
		CorrelationID: job.CorrelationID,
		Input:         job.Input,
		RetryCount:    job.RetryCount,
		MaxRetries:    job.MaxRetries,
	}
	if err := d.executions.Create(ctx, exec); err != nil {
		log.Error("create execution failed", logger.Error(err))
		return
	}

	worker, err := d.pool.Acquire(ctx)
	if err != nil {
		log.Warn("no worker available, re-queuing", logger.Error(err))
		if _, retryErr := d.jobs.Retry(ctx, job, task.RetryPolicy); retryErr != nil {
			log.Error("retry enqueue failed", logger.Error(retryErr))
		}
		return
	}
	defer d.pool.Release(worker.ID())

	if err := d.sm.Transition(exec, domain.ExecutionRunning); err != nil {
		log.Error("illegal transition to running", logger.Error(err))
		return
	}
	exec.MarkStarted(time.Now())
	if err := d.executions.UpdateState(ctx, exec); err != nil {
		log.Error("persist running state failed", logger.Error(err))
	}

	spanCtx, span := observability.StartExecutionSpan(ctx, d.tracer, task.Name, job.CorrelationID, job.RetryCount)
	result, err := worker.Execute(spanCtx, ExecutionRequest{Execution: exec, Task: task})
	d.settle(ctx, log, job, task, exec, result, err)
	var spanErr error
	if result.Err != nil {
		spanErr = result.Err
	}
	observability.EndExecutionSpan(span, string(exec.Status), spanErr)
}

func (d *Dispatcher) settle(
	ctx context.Context,
	log logger.Logger,
	job *domain.Job,
	task *domain.Task,
	exec *domain.Execution,
	result ExecutionResult,
	workerErr error,
) {
	now := time.Now()
	switch {
	case workerErr != nil:
		derr := domain.NewError(domain.KindWorkerCrash, workerErr.Error(), workerErr)
		_ = d.sm.Transition(exec, domain.ExecutionFailed)
		exec.MarkFailed(now, derr.Error(), nil)
	case result.Err != nil:
		retriable := result.Err.Retriable() && job.RetryCount < job.MaxRetries
		if retriable {
			_ = d.sm.Transition(exec, domain.ExecutionRetrying)
			exec.CompletedAt = &now
			if _, err := d.jobs.Retry(ctx, job, task.RetryPolicy); err != nil {
				log.Error("retry enqueue failed", logger.Error(err))
			}
		} else {
			_ = d.sm.Transition(exec, domain.ExecutionFailed)
			exec.MarkFailed(now, result.Err.Error(), nil)
		}
	default:
		_ = d.sm.Transition(exec, domain.ExecutionCompleted)
		exec.MarkCompleted(now, result.Output)
	}

	if err := d.executions.UpdateState(ctx, exec); err != nil {
		log.Error("persist final execution state failed", logger.Error(err))
	}

	if exec.Status == domain.ExecutionCompleted && d.deliverer != nil {
		d.deliverer.Deliver(ctx, exec, job.OutputDestinations)
	}
}
