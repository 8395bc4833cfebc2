// Package ipc implements the Worker IPC Protocol (§6.2): a duplex,
// length-prefixed, framed JSON channel between the orchestrator and a pool
// of worker processes. Framing mirrors the orchestrator's needs the way
// mcp-north-cloud/main.go's processRequests loop mirrors the MCP server's —
// a decode loop reading frames off a stream and dispatching on a tagged
// "kind" field — adapted from newline-delimited JSON-RPC to binary-safe
// u32-length-prefixed frames, since script output may embed arbitrary bytes.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/northcloud/jobforge/internal/domain"
)

// Kind tags which frame variant a Frame carries, mirroring the tagged-variant
// approach used for domain.Destination.
type Kind string

const (
	KindDispatch    Kind = "dispatch"
	KindProgress    Kind = "progress"
	KindHTTPRequest Kind = "http_request"
	KindHTTPResp    Kind = "http_response"
	KindResult      Kind = "result"
	KindCancel      Kind = "cancel"
	KindHeartbeat   Kind = "heartbeat"
)

// Frame is the envelope read off and written to the wire: a four-byte
// big-endian length prefix (set by Writer.WriteFrame, read by
// Reader.ReadFrame) followed by the
// UTF-8 JSON body below.
type Frame struct {
	Kind Kind `json:"kind"`

	// dispatch
	JobID         int64           `json:"job_id,omitempty"`
	ExecutionID   int64           `json:"execution_id,omitempty"`
	TaskUUID      string          `json:"task_uuid,omitempty"`
	TaskVersion   string          `json:"task_version,omitempty"`
	ScriptSource  string          `json:"script_source,omitempty"`
	Input         json.RawMessage `json:"input,omitempty"`
	InputSchema   json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema  json.RawMessage `json:"output_schema,omitempty"`
	TimeoutMs     int64           `json:"timeout_ms,omitempty"`
	Recording     bool            `json:"recording,omitempty"`

	// progress
	Progress   float64         `json:"progress,omitempty"`
	Step       string          `json:"step,omitempty"`
	StepNumber int             `json:"step_number,omitempty"`
	TotalSteps int             `json:"total_steps,omitempty"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`

	// http_request / http_response
	URL        string            `json:"url,omitempty"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`

	// result
	Success bool            `json:"success,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`

	// heartbeat
	Ts int64 `json:"ts,omitempty"`
}

// FrameError is the wire shape of a domain.Error inside a result frame.
type FrameError struct {
	Kind    domain.ErrorKind `json:"kind"`
	Subkind string           `json:"subkind,omitempty"`
	Message string           `json:"message"`
}

func (f *FrameError) toDomain() *domain.Error {
	if f == nil {
		return nil
	}
	return &domain.Error{
		Kind:          f.Kind,
		ScriptSubkind: domain.ScriptErrorSubkind(f.Subkind),
		Message:       f.Message,
	}
}

func fromDomainError(e *domain.Error) *FrameError {
	if e == nil {
		return nil
	}
	return &FrameError{Kind: e.Kind, Subkind: string(e.ScriptSubkind), Message: e.Message}
}

// ErrProtocolViolation is returned when a frame arrives out of the sequence
// the invariants in §6.2 allow — e.g. anything but dispatch/cancel after a
// dispatch's matching result has already been received.
type ErrProtocolViolation struct {
	Got      Kind
	Expected string
}

func (e *ErrProtocolViolation) Error() string {
	return fmt.Sprintf("ipc: protocol violation: got frame kind %q, expected %s", e.Got, e.Expected)
}
