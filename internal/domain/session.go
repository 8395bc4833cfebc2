package domain

import "time"

// Session is a client-scoped context with an ordered, resumable event log
// (§3, §4.4). The log itself is never embedded here — it lives in the event
// store, addressed only by SessionID, so that Session and its log never hold
// cyclic references (spec.md §9's re-architecture note).
type Session struct {
	SessionID         string    `db:"session_id"          json:"session_id"`
	CreatedAt         time.Time `db:"created_at"          json:"created_at"`
	LastActivityAt    time.Time `db:"last_activity_at"    json:"last_activity_at"`
	ExpiresAt         time.Time `db:"expires_at"          json:"expires_at"`
	ClientFingerprint string    `db:"client_fingerprint"  json:"client_fingerprint"`
}

// Expired reports whether the session has had no activity for longer than
// its configured timeout, as of now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Touch extends the session's expiry from an activity at `now`.
func (s *Session) Touch(now time.Time, timeout time.Duration) {
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(timeout)
}

// EventType tags the kind of payload carried by an Event (§3).
type EventType string

const (
	EventInitialization EventType = "initialization"
	EventRequest        EventType = "request"
	EventResponse       EventType = "response"
	EventProgress       EventType = "progress"
	EventKeepAlive      EventType = "keep_alive"
)

// Event is one entry in a session's append-only log, addressable by ID and
// by its strictly monotonic per-session Sequence (§4.4.3).
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	EventType EventType `json:"event_type"`
	Data      JSONDoc   `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
}
