package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/logger"
)

// WorkerState is one of the four lifecycle states a pooled worker process
// moves through (§4.1.2).
type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerBusy     WorkerState = "busy"
	WorkerDraining WorkerState = "draining"
	WorkerDead     WorkerState = "dead"
)

// ExecutionRequest is what the orchestrator sends a worker to run.
type ExecutionRequest struct {
	Execution *domain.Execution
	Task      *domain.Task
}

// ExecutionResult is what a worker returns once it settles an execution.
type ExecutionResult struct {
	Output RawOutput
	Err    *domain.Error
}

// RawOutput defers JSON decoding to the caller, since the orchestrator only
// needs to persist it, not interpret it.
type RawOutput = domain.RawJSON

// WorkerHandle abstracts a worker process reachable over the IPC protocol
// (§6.2); ipcWorker and ProcessWorker in this package implement it over an
// *ipc.Conn. Defining the interface here, not in internal/ipc, keeps the
// orchestrator independent of the wire format.
type WorkerHandle interface {
	ID() string
	Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
	LastHeartbeat() time.Time
	Shutdown(ctx context.Context) error
}

type worker struct {
	handle WorkerHandle
	state  WorkerState
}

// heartbeatTimeout is how long a worker may go without a heartbeat before
// the pool marks it Dead and stops dispatching to it.
const heartbeatTimeout = 30 * time.Second

// WorkerPool tracks a fixed set of worker processes and hands out an Idle
// one to Acquire, mirroring the active-jobs map pattern in
// crawler/internal/job/db_scheduler.go but keyed by worker identity rather
// than job identity.
type WorkerPool struct {
	log     logger.Logger
	mu      sync.Mutex
	workers map[string]*worker
	free    chan string
}

func NewWorkerPool(log logger.Logger) *WorkerPool {
	return &WorkerPool{
		log:     log,
		workers: make(map[string]*worker),
		free:    make(chan string, 256),
	}
}

// Register adds a worker handle to the pool in the Idle state.
func (p *WorkerPool) Register(h WorkerHandle) {
	p.mu.Lock()
	p.workers[h.ID()] = &worker{handle: h, state: WorkerIdle}
	p.mu.Unlock()
	p.free <- h.ID()
}

// Acquire blocks until an Idle worker is available or ctx is cancelled.
func (p *WorkerPool) Acquire(ctx context.Context) (WorkerHandle, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case id := <-p.free:
			p.mu.Lock()
			w, ok := p.workers[id]
			if !ok || w.state == WorkerDead {
				p.mu.Unlock()
				continue
			}
			w.state = WorkerBusy
			p.mu.Unlock()
			return w.handle, nil
		}
	}
}

// Release returns a worker to Idle (or drops it if it has been marked Dead
// in the meantime) so it can serve the next Acquire.
func (p *WorkerPool) Release(id string) {
	p.mu.Lock()
	w, ok := p.workers[id]
	if ok && w.state != WorkerDead {
		w.state = WorkerIdle
	}
	p.mu.Unlock()
	if ok && w.state != WorkerDead {
		p.free <- id
	}
}

// Drain marks a worker Draining: it finishes its current execution but is
// never Acquired again, then transitions to Dead once Shutdown completes.
func (p *WorkerPool) Drain(ctx context.Context, id string) error {
	p.mu.Lock()
	w, ok := p.workers[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("unknown worker: %s", id)
	}
	w.state = WorkerDraining
	p.mu.Unlock()

	err := w.handle.Shutdown(ctx)

	p.mu.Lock()
	w.state = WorkerDead
	p.mu.Unlock()
	return err
}

// MonitorHeartbeats runs until ctx is cancelled, marking any worker whose
// last heartbeat exceeds heartbeatTimeout as Dead so the pool stops
// dispatching to a worker process that has wedged or crashed silently.
func (p *WorkerPool) MonitorHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(heartbeatTimeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepDead()
		}
	}
}

func (p *WorkerPool) sweepDead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for id, w := range p.workers {
		if w.state == WorkerDead {
			continue
		}
		if now.Sub(w.handle.LastHeartbeat()) > heartbeatTimeout {
			w.state = WorkerDead
			p.log.Warn("worker heartbeat expired, marking dead", logger.String("worker_id", id))
		}
	}
}

// Snapshot returns each worker's current state, for the admin API's pool
// status endpoint.
func (p *WorkerPool) Snapshot() map[string]WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]WorkerState, len(p.workers))
	for id, w := range p.workers {
		out[id] = w.state
	}
	return out
}
