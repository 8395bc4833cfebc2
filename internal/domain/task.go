package domain

import "time"

// Task is the template for a unit of work: a script plus its declared input
// and output JSON Schemas.
type Task struct {
	ID             int64     `db:"id"              json:"id"`
	UUID           string    `db:"uuid"            json:"uuid"`
	Version        string    `db:"version"         json:"version"`
	Name           string    `db:"name"            json:"name"`
	Description    string    `db:"description"     json:"description"`
	ScriptSource   string    `db:"script_source"   json:"script_source"`
	InputSchema    JSONDoc   `db:"input_schema"    json:"input_schema"`
	OutputSchema   JSONDoc   `db:"output_schema"   json:"output_schema"`
	Metadata       JSONDoc   `db:"metadata"        json:"metadata,omitempty"`
	Enabled        bool      `db:"enabled"         json:"enabled"`
	RegistrySource bool      `db:"registry_source" json:"registry_source"`

	// ContentHash, RegistryRepository and RegistryPath are set only for
	// registry-sourced Tasks (§4.5.1): the hash lets the Syncer detect
	// changed content without re-reading script bodies, and the
	// repository/path pair lets it detect removals.
	ContentHash        string `db:"content_hash"        json:"content_hash,omitempty"`
	RegistryRepository string `db:"registry_repository" json:"registry_repository,omitempty"`
	RegistryPath       string `db:"registry_path"       json:"registry_path,omitempty"`

	// RetryPolicy parameterizes a failed Execution's retry backoff per-task
	// (§4.1.3: "backoff is identical to delivery backoff (§4.3.2) but
	// parameterized per-task"). Zero-valued until explicitly set, in which
	// case JobRepository.Retry falls back to the package-level
	// defaultJobRetryPolicy.
	RetryPolicy RetryPolicy `db:"retry_policy" json:"retry_policy,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Identity returns the (uuid, version) pair that uniquely names this task
// independent of any numeric database id — registry-sourced tasks may be
// dispatched before they ever acquire one.
func (t *Task) Identity() (uuid, version string) {
	return t.UUID, t.Version
}

// Validate checks the invariants §3 places on Task: non-empty script when
// enabled, and structurally present schemas. Deep JSON Schema draft
// validation is performed by runtime.Validator at dispatch time, not here.
func (t *Task) Validate() error {
	if t.Enabled && t.ScriptSource == "" {
		return &ValidationFailure{Field: "script_source", Reason: "must not be empty when task is enabled"}
	}
	if t.InputSchema == nil {
		return &ValidationFailure{Field: "input_schema", Reason: "must be present"}
	}
	if t.OutputSchema == nil {
		return &ValidationFailure{Field: "output_schema", Reason: "must be present"}
	}
	return nil
}

// ValidationFailure reports a structural problem with a Task definition.
type ValidationFailure struct {
	Field  string
	Reason string
}

func (e *ValidationFailure) Error() string {
	return "domain: " + e.Field + ": " + e.Reason
}
