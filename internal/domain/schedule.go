package domain

import "time"

// Schedule is a cron-driven Job generator.
type Schedule struct {
	ID                 int64         `db:"id"                  json:"id"`
	UUID               string        `db:"uuid"                json:"uuid"`
	TaskID              int64         `db:"task_id"             json:"task_id"`
	CronExpression      string        `db:"cron_expression"     json:"cron_expression"`
	Timezone            string        `db:"timezone"            json:"timezone"`
	Enabled             bool          `db:"enabled"             json:"enabled"`
	NextRunAt           time.Time     `db:"next_run_at"         json:"next_run_at"`
	LastRunAt           *time.Time    `db:"last_run_at"         json:"last_run_at,omitempty"`
	InputTemplate       JSONDoc         `db:"input_template"      json:"input_template,omitempty"`
	OutputDestinations  DestinationList `db:"output_destinations" json:"output_destinations,omitempty"`
	MissedRuns          int64           `db:"missed_runs"         json:"missed_runs"`
	CreatedAt           time.Time     `db:"created_at"          json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at"          json:"updated_at"`
}

// DeliveryStatus summarizes the outcome of delivering one Execution's output
// across all of its destinations (§4.3.6).
type DeliveryStatus string

const (
	DeliverySucceeded DeliveryStatus = "succeeded"
	DeliveryPartial   DeliveryStatus = "partial"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryResult is one row per (Execution, Destination, Attempt).
type DeliveryResult struct {
	ID              int64     `db:"id"               json:"id"`
	ExecutionID     int64     `db:"execution_id"     json:"execution_id"`
	DestinationKind string    `db:"destination_kind" json:"destination_kind"`
	DestinationKey  string    `db:"destination_key"  json:"destination_key"` // stable identity within the job's destination list
	AttemptNumber   int       `db:"attempt_number"   json:"attempt_number"`
	Success         bool      `db:"success"          json:"success"`
	SizeBytes       int64     `db:"size_bytes"       json:"size_bytes,omitempty"`
	ElapsedMs       int64     `db:"elapsed_ms"       json:"elapsed_ms"`
	ResponseInfo    JSONDoc   `db:"response_info"    json:"response_info,omitempty"`
	ErrorKind       *string   `db:"error_kind"       json:"error_kind,omitempty"`
	ErrorMessage    *string   `db:"error_message"    json:"error_message,omitempty"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
}
