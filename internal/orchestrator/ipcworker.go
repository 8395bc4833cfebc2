package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/ipc"
)

// ipcWorker adapts an *ipc.Conn to the WorkerHandle interface the dispatcher
// and WorkerPool depend on, keeping the orchestrator's view of a worker
// (acquire/execute/release) decoupled from the frame format itself.
type ipcWorker struct {
	conn *ipc.Conn
}

// NewIPCWorker wraps a live worker connection for registration with a
// WorkerPool.
func NewIPCWorker(conn *ipc.Conn) WorkerHandle {
	return &ipcWorker{conn: conn}
}

func (w *ipcWorker) ID() string                  { return w.conn.ID() }
func (w *ipcWorker) LastHeartbeat() time.Time    { return w.conn.LastHeartbeat() }
func (w *ipcWorker) Shutdown(ctx context.Context) error { return w.conn.Shutdown(ctx) }

func (w *ipcWorker) Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error) {
	inputSchema, err := json.Marshal(req.Task.InputSchema)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("marshal input schema: %w", err)
	}
	outputSchema, err := json.Marshal(req.Task.OutputSchema)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("marshal output schema: %w", err)
	}

	frame := &ipc.Frame{
		JobID:        req.Execution.JobID,
		ExecutionID:  req.Execution.ID,
		TaskUUID:     req.Task.UUID,
		TaskVersion:  req.Task.Version,
		ScriptSource: req.Task.ScriptSource,
		Input:        json.RawMessage(req.Execution.Input),
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
		TimeoutMs:    0,
		Recording:    req.Execution.RecordingPath != nil,
	}

	result, err := w.conn.Dispatch(ctx, frame)
	if err != nil {
		return ExecutionResult{}, err
	}

	if !result.Success {
		var derr *domain.Error
		if result.Error != nil {
			derr = &domain.Error{
				Kind:          result.Error.Kind,
				ScriptSubkind: domain.ScriptErrorSubkind(result.Error.Subkind),
				Message:       result.Error.Message,
			}
		} else {
			derr = domain.NewError(domain.KindScriptError, "worker reported failure with no error detail", nil)
		}
		return ExecutionResult{Err: derr}, nil
	}

	return ExecutionResult{Output: domain.RawJSON(result.Output)}, nil
}

// Cancel requests cooperative cancellation of the execution this worker is
// currently running.
func (w *ipcWorker) Cancel(executionID int64) error {
	return w.conn.Cancel(executionID)
}
