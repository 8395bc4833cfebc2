package domain

import "time"

// ExecutionStatus is the lifecycle state of a single attempt to run a Job.
// Transitions are enforced by orchestrator.StateMachine, not by this type.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionTimedOut  ExecutionStatus = "timed_out"
	ExecutionRetrying  ExecutionStatus = "retrying"
)

// Terminal reports whether status has no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimedOut:
		return true
	default:
		return false
	}
}

// Execution is a single attempt to run a Job in a worker.
type Execution struct {
	ID             int64           `db:"id"              json:"id"`
	UUID           string          `db:"uuid"            json:"uuid"`
	JobID          int64           `db:"job_id"           json:"job_id"`
	TaskID         int64           `db:"task_id"          json:"task_id"`
	CorrelationID  string          `db:"correlation_id"   json:"correlation_id"`
	Input          RawJSON         `db:"input"            json:"input"`
	Output         RawJSON         `db:"output"           json:"output,omitempty"`
	Status         ExecutionStatus `db:"status"           json:"status"`
	ErrorMessage   *string         `db:"error_message"    json:"error_message,omitempty"`
	ErrorDetails   JSONDoc         `db:"error_details"    json:"error_details,omitempty"`
	QueuedAt       time.Time       `db:"queued_at"        json:"queued_at"`
	StartedAt      *time.Time      `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt    *time.Time      `db:"completed_at"     json:"completed_at,omitempty"`
	DurationMs     *int64          `db:"duration_ms"      json:"duration_ms,omitempty"`
	WorkerID       *string         `db:"worker_id"        json:"worker_id,omitempty"`
	RetryCount     int             `db:"retry_count"      json:"retry_count"`
	MaxRetries     int             `db:"max_retries"      json:"max_retries"`
	RecordingPath  *string         `db:"recording_path"   json:"recording_path,omitempty"`
}

// CanRetry reports whether §4.1.3's retry budget has not been exhausted.
func (e *Execution) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// MarkStarted records the Pending -> Running transition's timestamp.
func (e *Execution) MarkStarted(at time.Time) {
	e.Status = ExecutionRunning
	e.StartedAt = &at
}

// MarkCompleted records a successful terminal transition.
func (e *Execution) MarkCompleted(at time.Time, output RawJSON) {
	e.Status = ExecutionCompleted
	e.CompletedAt = &at
	e.Output = output
	e.setDuration(at)
}

// MarkFailed records a non-retriable or retry-exhausted terminal transition.
func (e *Execution) MarkFailed(at time.Time, msg string, details JSONDoc) {
	e.Status = ExecutionFailed
	e.CompletedAt = &at
	e.ErrorMessage = &msg
	e.ErrorDetails = details
	e.setDuration(at)
}

func (e *Execution) setDuration(at time.Time) {
	if e.StartedAt == nil {
		return
	}
	ms := at.Sub(*e.StartedAt).Milliseconds()
	e.DurationMs = &ms
}
