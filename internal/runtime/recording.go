package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Recording captures one execution's input, output, and fetch traffic as a
// content-addressed artifact when the dispatch frame requests it
// (`recording: true`, §6.2), mirroring crawler/internal/archive's
// hash-named object key scheme but addressed by content hash rather than
// URL hash, since a recording's identity is its bytes, not a source URL.
type Recording struct {
	ExecutionUUID string          `json:"execution_uuid"`
	StartedAt     time.Time       `json:"started_at"`
	Input         json.RawMessage `json:"input"`
	Output        json.RawMessage `json:"output,omitempty"`
	FetchCalls    []FetchTrace    `json:"fetch_calls,omitempty"`
}

// FetchTrace is one recorded host-mediated HTTP round trip.
type FetchTrace struct {
	Request  FetchRequest  `json:"request"`
	Response *FetchResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Recorder accumulates a Recording across an Evaluate call's fetch
// round-trips, then computes its content-addressed key.
type Recorder struct {
	rec Recording
}

func NewRecorder(executionUUID string, input json.RawMessage) *Recorder {
	return &Recorder{rec: Recording{
		ExecutionUUID: executionUUID,
		StartedAt:     time.Now(),
		Input:         input,
	}}
}

func (r *Recorder) TraceFetch(req FetchRequest, resp *FetchResponse, err error) {
	t := FetchTrace{Request: req, Response: resp}
	if err != nil {
		t.Error = err.Error()
	}
	r.rec.FetchCalls = append(r.rec.FetchCalls, t)
}

func (r *Recorder) Finish(output json.RawMessage) (*Recording, string, error) {
	r.rec.Output = output
	body, err := json.Marshal(r.rec)
	if err != nil {
		return nil, "", fmt.Errorf("marshal recording: %w", err)
	}
	return &r.rec, contentKey(r.rec.ExecutionUUID, body), nil
}

// contentKey builds the object-store key
// recordings/<yyyy>/<mm>/<dd>/<execution-uuid>_<hash>.json, partitioned by
// day like the teacher's archiver keys, where <hash> is the first 16 hex
// digits of the sha256 of the recording body rather than of a URL.
func contentKey(executionUUID string, body []byte) string {
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])[:16]
	now := time.Now()
	return fmt.Sprintf("recordings/%s/%s/%s/%s_%s.json",
		now.Format("2006"), now.Format("01"), now.Format("02"), executionUUID, hash)
}

// Store persists a finished Recording to an object store keyed by its
// content-addressed path. Declared here rather than depending directly on
// internal/delivery's ObjectStoreConfig, keeping this package import-light.
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
}
