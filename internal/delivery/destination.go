package delivery

import (
	"context"
	"strconv"
	"time"

	"github.com/northcloud/jobforge/internal/domain"
)

// Envelope is the canonical JSON body delivered to every destination kind,
// per §4.3.1 #1's webhook body shape generalized to all four kinds.
type Envelope struct {
	JobID                int64           `json:"job_id"`
	TaskID               int64           `json:"task_id"`
	ExecutionID          int64           `json:"execution_id"`
	TaskName             string          `json:"task_name"`
	TaskVersion          string          `json:"task_version"`
	CompletedAt          time.Time       `json:"completed_at"`
	ExecutionDurationMs  int64           `json:"execution_duration_ms"`
	TraceID              string          `json:"trace_id"`
	Output               domain.RawJSON  `json:"output"`
	Metadata             domain.JSONDoc  `json:"metadata,omitempty"`
	Environment          string          `json:"environment"`
	Timestamp             time.Time      `json:"timestamp"`
}

// Attempt is one Sender invocation's outcome, converted by the Pipeline into
// a domain.DeliveryResult row.
type Attempt struct {
	Success      bool
	Retryable    bool // ignored when Success; §4.3.2: only 5xx/429/retry_on_status retry
	SizeBytes    int64
	ElapsedMs    int64
	ResponseInfo domain.JSONDoc
	ErrorKind    domain.ErrorKind
	ErrorMessage string
}

// Sender delivers one Envelope to one configured destination, performing
// exactly one attempt — retry looping across attempts is the Pipeline's job,
// not the Sender's, keeping each Sender's method sequential per §4.3.5's
// "within a single destination, attempts are strictly sequential."
type Sender interface {
	Send(ctx context.Context, env Envelope, dest domain.Destination, tmplCtx Context) Attempt
}

// Senders bundles one Sender per destination kind.
type Senders struct {
	Webhook    Sender
	Filesystem Sender
	Database   Sender
	ObjectStore Sender
}

func (s Senders) forKind(kind domain.DestinationKind) Sender {
	switch kind {
	case domain.DestinationWebhook:
		return s.Webhook
	case domain.DestinationFilesystem:
		return s.Filesystem
	case domain.DestinationDatabase:
		return s.Database
	case domain.DestinationObjectStore:
		return s.ObjectStore
	default:
		return nil
	}
}

// destinationKey derives the stable identity DeliveryResult rows key on
// within a job's destination list (§3): the destination's kind plus its
// position, since destinations carry no uuid of their own.
func destinationKey(kind domain.DestinationKind, index int) string {
	return string(kind) + "#" + strconv.Itoa(index)
}
