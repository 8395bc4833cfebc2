package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/session"
)

// Dispatcher implements session.Dispatcher over Services, routing JSON-RPC
// methods the way mcp-north-cloud's Server.HandleRequestWithContext routes
// MCP tool calls — a string-switch into a method table rather than
// reflection-based routing.
type Dispatcher struct {
	svc *Services
}

func NewDispatcher(svc *Services) *Dispatcher {
	return &Dispatcher{svc: svc}
}

type methodHandlerFunc func(d *Dispatcher, ctx context.Context, params json.RawMessage) (any, *domain.Error)

var methodHandlers = map[string]methodHandlerFunc{
	"execute_task":  (*Dispatcher).handleExecuteTask,
	"list_tasks":    (*Dispatcher).handleListTasks,
	"get_execution": (*Dispatcher).handleGetExecution,
	"get_job":       (*Dispatcher).handleGetJob,
	"list_jobs":     (*Dispatcher).handleListJobs,
	"cancel_job":    (*Dispatcher).handleCancelJob,
}

// Handle satisfies session.Dispatcher. Notifications (req.ID == nil) still
// run their side effect but return nil, matching §6.3's "no response for
// notifications" rule.
func (d *Dispatcher) Handle(ctx context.Context, sessionID string, req *session.Request) *session.Response {
	h, ok := methodHandlers[req.Method]
	if !ok {
		if req.IsNotification() {
			return nil
		}
		return &session.Response{JSONRPC: "2.0", ID: req.ID, Error: &session.RPCError{
			Code: session.CodeMethodNotFound, Message: "method not found: " + req.Method,
		}}
	}

	result, derr := h(d, ctx, req.Params)
	if req.IsNotification() {
		return nil
	}
	if derr != nil {
		return &session.Response{JSONRPC: "2.0", ID: req.ID, Error: &session.RPCError{
			Code: session.CodeApplicationError, Message: derr.Message, Data: map[string]any{"kind": derr.Kind},
		}}
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return &session.Response{JSONRPC: "2.0", ID: req.ID, Error: &session.RPCError{
			Code: session.CodeInternalError, Message: "marshal result: " + err.Error(),
		}}
	}
	return &session.Response{JSONRPC: "2.0", ID: req.ID, Result: payload}
}

type executeTaskParams struct {
	TaskUUID string         `json:"task_uuid"`
	Input    map[string]any `json:"input"`
}

func (d *Dispatcher) handleExecuteTask(ctx context.Context, params json.RawMessage) (any, *domain.Error) {
	var p executeTaskParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, domain.NewError(domain.KindConfigError, "invalid params", err)
	}
	task, err := d.svc.Tasks.GetByUUID(ctx, p.TaskUUID)
	if err != nil {
		return nil, toDomainError(err)
	}
	inputBytes, err := json.Marshal(p.Input)
	if err != nil {
		return nil, domain.NewError(domain.KindConfigError, "marshal input", err)
	}
	if d.svc.ExecCfg.ValidateSchemas {
		if verr := taskValidator.ValidateInput(task.InputSchema, inputBytes); verr != nil {
			return nil, verr
		}
	}
	job := &domain.Job{
		TaskID:     task.ID,
		Input:      domain.RawJSON(inputBytes),
		Priority:   domain.PriorityNormal,
		Status:     domain.JobQueued,
		MaxRetries: 3,
	}
	if err := d.svc.Jobs.Enqueue(ctx, job); err != nil {
		return nil, toDomainError(err)
	}
	return job, nil
}

func (d *Dispatcher) handleListTasks(ctx context.Context, _ json.RawMessage) (any, *domain.Error) {
	tasks, err := d.svc.Tasks.List(ctx, database.TaskFilter{}, 1, 50)
	if err != nil {
		return nil, toDomainError(err)
	}
	return tasks, nil
}

type uuidParams struct {
	UUID string `json:"uuid"`
}

func (d *Dispatcher) handleGetExecution(ctx context.Context, params json.RawMessage) (any, *domain.Error) {
	var p uuidParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, domain.NewError(domain.KindConfigError, "invalid params", err)
	}
	execution, err := d.svc.Executions.GetByUUID(ctx, p.UUID)
	if err != nil {
		return nil, toDomainError(err)
	}
	return execution, nil
}

func (d *Dispatcher) handleGetJob(ctx context.Context, params json.RawMessage) (any, *domain.Error) {
	var p uuidParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, domain.NewError(domain.KindConfigError, "invalid params", err)
	}
	job, err := d.svc.Jobs.GetByUUID(ctx, p.UUID)
	if err != nil {
		return nil, toDomainError(err)
	}
	return job, nil
}

func (d *Dispatcher) handleListJobs(ctx context.Context, _ json.RawMessage) (any, *domain.Error) {
	jobs, err := d.svc.Jobs.List(ctx, database.JobFilter{}, 1, 50)
	if err != nil {
		return nil, toDomainError(err)
	}
	return jobs, nil
}

func (d *Dispatcher) handleCancelJob(ctx context.Context, params json.RawMessage) (any, *domain.Error) {
	var p uuidParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, domain.NewError(domain.KindConfigError, "invalid params", err)
	}
	job, err := d.svc.Jobs.GetByUUID(ctx, p.UUID)
	if err != nil {
		return nil, toDomainError(err)
	}
	if err := d.svc.Jobs.Cancel(ctx, job.ID); err != nil {
		return nil, toDomainError(err)
	}
	return map[string]any{"cancelled": true}, nil
}

// toDomainError normalizes any error into the tagged taxonomy §7 requires,
// preserving an existing domain.Error's Kind rather than flattening it to
// internal_error.
func toDomainError(err error) *domain.Error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	return domain.NewError(domain.KindInternalError, err.Error(), err)
}
