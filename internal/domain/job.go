package domain

import "time"

// Priority orders Job dispatch; higher values are dispatched first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// ParsePriority maps the wire/config string form to Priority, defaulting to
// Normal on an unrecognized value.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// JobStatus is the lifecycle state of a queued unit of work.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
	JobRetrying   JobStatus = "retrying"
)

// Destination is one configured sink for an Execution's output. Kind selects
// which of the mutually-exclusive *Config fields is populated — this is the
// tagged-variant re-architecture spec.md §9 calls for in place of an
// interface/trait-object destination hierarchy.
type Destination struct {
	Kind       DestinationKind    `json:"kind"`
	Webhook    *WebhookConfig     `json:"webhook,omitempty"`
	Filesystem *FilesystemConfig  `json:"filesystem,omitempty"`
	Database   *DatabaseDestConfig `json:"database,omitempty"`
	ObjectStore *ObjectStoreConfig `json:"object_store,omitempty"`
}

// DestinationKind tags which Destination variant is populated.
type DestinationKind string

const (
	DestinationWebhook     DestinationKind = "webhook"
	DestinationFilesystem  DestinationKind = "filesystem"
	DestinationDatabase    DestinationKind = "database"
	DestinationObjectStore DestinationKind = "object_store"
)

// RetryPolicy configures delivery/execution retry backoff, shared by §4.1.3
// (execution retry) and §4.3.2 (delivery retry).
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	Jitter            bool          `json:"jitter"`
	RetryOnStatus     []int         `json:"retry_on_status,omitempty"`
}

// Validate enforces §4.3.2's invariants.
func (p *RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return &ValidationFailure{Field: "max_attempts", Reason: "must be >= 1"}
	}
	if p.InitialDelay > p.MaxDelay {
		return &ValidationFailure{Field: "initial_delay", Reason: "must be <= max_delay"}
	}
	if p.BackoffMultiplier <= 1 {
		return &ValidationFailure{Field: "backoff_multiplier", Reason: "must be > 1"}
	}
	return nil
}

// Job is a request to run a Task with concrete input, optionally scheduled
// for the future.
type Job struct {
	ID                 int64         `db:"id"                  json:"id"`
	UUID               string        `db:"uuid"                json:"uuid"`
	TaskID             int64         `db:"task_id"             json:"task_id"`
	Input              RawJSON       `db:"input"               json:"input"`
	Priority           Priority      `db:"priority"            json:"priority"`
	Status             JobStatus     `db:"status"              json:"status"`
	ScheduledFor       *time.Time    `db:"scheduled_for"       json:"scheduled_for,omitempty"`
	ScheduleID         *int64        `db:"schedule_id"         json:"schedule_id,omitempty"`
	RetryCount         int             `db:"retry_count"         json:"retry_count"`
	MaxRetries         int             `db:"max_retries"         json:"max_retries"`
	OutputDestinations DestinationList `db:"output_destinations" json:"output_destinations,omitempty"`
	CorrelationID      string          `db:"correlation_id"      json:"correlation_id"`
	LeaseID            *string       `db:"lease_id"            json:"lease_id,omitempty"`
	QueuedAt           time.Time     `db:"queued_at"           json:"queued_at"`
	CreatedAt          time.Time     `db:"created_at"          json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"          json:"updated_at"`
}

// Dispatchable reports whether the job is visible to dispatch selection:
// queued and not scheduled for the future (§4.1.1).
func (j *Job) Dispatchable(now time.Time) bool {
	if j.Status != JobQueued {
		return false
	}
	if j.ScheduledFor != nil && j.ScheduledFor.After(now) {
		return false
	}
	return true
}
