package delivery

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/logger"
)

// Pipeline implements the Output Delivery Pipeline (§4.3): a bounded
// semaphore gates all in-flight deliveries system-wide, while deliveries for
// distinct destinations of the same Execution run concurrently with each
// other.
type Pipeline struct {
	log     logger.Logger
	results *database.DeliveryRepository
	sem     *semaphore.Weighted
	senders Senders

	taskNameOf func(taskID int64) (name, version string)
}

// NewPipeline builds a Pipeline gated to maxConcurrent in-flight deliveries
// (§4.3.5). taskNameOf resolves an Execution's TaskID to the (name, version)
// pair the rendering context and webhook envelope require.
func NewPipeline(
	log logger.Logger,
	results *database.DeliveryRepository,
	senders Senders,
	maxConcurrent int64,
	taskNameOf func(taskID int64) (name, version string),
) *Pipeline {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Pipeline{
		log:        log,
		results:    results,
		sem:        semaphore.NewWeighted(maxConcurrent),
		senders:    senders,
		taskNameOf: taskNameOf,
	}
}

// Deliver fans out to every destination concurrently, implementing the
// orchestrator.Deliverer interface. It returns once every destination's
// attempts, retries included, have finished.
func (p *Pipeline) Deliver(ctx context.Context, exec *domain.Execution, destinations domain.DestinationList) {
	if len(destinations) == 0 {
		return
	}
	taskName, taskVersion := p.taskNameOf(exec.TaskID)
	tmplCtx := NewContext(exec, taskName, taskVersion)
	env := Envelope{
		JobID:               exec.JobID,
		TaskID:              exec.TaskID,
		ExecutionID:         exec.ID,
		TaskName:            taskName,
		TaskVersion:         taskVersion,
		TraceID:             exec.CorrelationID,
		Output:              exec.Output,
		Environment:         tmplCtx["environment"],
		Timestamp:           time.Now().UTC(),
	}
	if exec.CompletedAt != nil {
		env.CompletedAt = *exec.CompletedAt
	}
	if exec.DurationMs != nil {
		env.ExecutionDurationMs = *exec.DurationMs
	}

	var wg sync.WaitGroup
	for i, dest := range destinations {
		dest, i := dest, i
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.deliverOne(ctx, exec, env, dest, i, tmplCtx)
		}()
	}
	wg.Wait()
}

func (p *Pipeline) deliverOne(ctx context.Context, exec *domain.Execution, env Envelope, dest domain.Destination, index int, tmplCtx Context) {
	sender := p.senders.forKind(dest.Kind)
	if sender == nil {
		p.log.Error("no sender registered for destination kind", logger.String("kind", string(dest.Kind)))
		return
	}
	policy := retryPolicyFor(dest)
	key := destinationKey(dest.Kind, index)

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		start := time.Now()
		result := sender.Send(ctx, env, dest, tmplCtx)
		p.sem.Release(1)
		result.ElapsedMs = time.Since(start).Milliseconds()

		p.record(ctx, exec.ID, dest.Kind, key, attempt, result)

		if result.Success || !result.Retryable || attempt == policy.MaxAttempts {
			return
		}

		delay := backoffDelay(policy, attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (p *Pipeline) record(ctx context.Context, executionID int64, kind domain.DestinationKind, key string, attempt int, a Attempt) {
	row := &domain.DeliveryResult{
		ExecutionID:     executionID,
		DestinationKind: string(kind),
		DestinationKey:  key,
		AttemptNumber:   attempt,
		Success:         a.Success,
		SizeBytes:       a.SizeBytes,
		ElapsedMs:       a.ElapsedMs,
		ResponseInfo:    a.ResponseInfo,
	}
	if !a.Success {
		k := string(a.ErrorKind)
		row.ErrorKind = &k
		row.ErrorMessage = &a.ErrorMessage
	}
	if err := p.results.Record(ctx, row); err != nil {
		p.log.Error("record delivery result failed", logger.Error(err))
	}
}

func retryPolicyFor(dest domain.Destination) domain.RetryPolicy {
	switch dest.Kind {
	case domain.DestinationWebhook:
		if dest.Webhook != nil {
			return dest.Webhook.RetryPolicy
		}
	case domain.DestinationFilesystem:
		if dest.Filesystem != nil {
			return dest.Filesystem.RetryPolicy
		}
	case domain.DestinationDatabase:
		if dest.Database != nil {
			return dest.Database.RetryPolicy
		}
	case domain.DestinationObjectStore:
		if dest.ObjectStore != nil {
			return dest.ObjectStore.RetryPolicy
		}
	}
	return domain.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Second, MaxDelay: time.Second, BackoffMultiplier: 2}
}

// backoffDelay implements §4.3.2's exact formula: min(max_delay,
// initial_delay * multiplier^(n-1)), plus uniform jitter in [0, delay/4] if
// enabled — distinct from internal/retry's full-jitter helper, since this
// destination-retry formula is spec-mandated rather than a generic default.
func backoffDelay(p domain.RetryPolicy, attempt int) time.Duration {
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1)))
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
	}
	return delay
}
