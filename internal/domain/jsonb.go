// Package domain contains the core entities shared by every component of the
// orchestrator: tasks, jobs, executions, schedules, delivery results and
// streaming sessions.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONDoc is a generic JSON document stored in a JSONB column. It round-trips
// through PostgreSQL as bytes and is used for task/job metadata, schemas,
// input and output payloads.
type JSONDoc map[string]any

// Scan implements sql.Scanner.
func (j *JSONDoc) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("domain: unsupported type for JSONDoc")
	}

	if len(data) == 0 {
		*j = JSONDoc{}
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer.
func (j JSONDoc) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// RawJSON is a JSON-valid byte payload stored verbatim (used for input/output
// where the caller already has serialized bytes and structural validity,
// not key access, is all that matters).
type RawJSON []byte

// Scan implements sql.Scanner.
func (r *RawJSON) Scan(value any) error {
	if value == nil {
		*r = nil
		return nil
	}
	switch v := value.(type) {
	case string:
		*r = RawJSON(v)
	case []byte:
		*r = RawJSON(append([]byte(nil), v...))
	default:
		return errors.New("domain: unsupported type for RawJSON")
	}
	return nil
}

// Value implements driver.Valuer.
func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return []byte(r), nil
}

// Scan implements sql.Scanner for RetryPolicy, letting Task store its
// per-task execution backoff policy (§4.1.3) in a single JSONB column the
// same way JSONDoc/DestinationList round-trip theirs.
func (p *RetryPolicy) Scan(value any) error {
	if value == nil {
		*p = RetryPolicy{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("domain: unsupported type for RetryPolicy")
	}
	if len(data) == 0 {
		*p = RetryPolicy{}
		return nil
	}
	return json.Unmarshal(data, p)
}

// Value implements driver.Valuer.
func (p RetryPolicy) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// DestinationList is a []Destination that round-trips through a single JSONB
// column, used by Job.OutputDestinations and Schedule.OutputDestinations.
type DestinationList []Destination

// Scan implements sql.Scanner.
func (d *DestinationList) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("domain: unsupported type for DestinationList")
	}
	if len(data) == 0 {
		*d = DestinationList{}
		return nil
	}
	return json.Unmarshal(data, d)
}

// Value implements driver.Valuer.
func (d DestinationList) Value() (driver.Value, error) {
	if len(d) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal([]Destination(d))
}
