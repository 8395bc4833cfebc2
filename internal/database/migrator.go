package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/northcloud/jobforge/internal/logger"
)

// schemaVersion is one entry applied against schema_migrations, grounded on
// crawler/internal/job/migrator.go's batch-apply-and-report shape, repurposed
// here for schema DDL rather than per-row data migration.
type schemaVersion struct {
	Version int
	Name    string
	Up      string
}

// Migrator applies the ordered set of schema migrations idempotently,
// tracking applied versions in schema_migrations. A Migrate failure is
// returned to the caller as an error; cmd/jobforged exits with status 1 on
// it like any other startup error, not with config.ExitMigrationFailed.
type Migrator struct {
	db   *sqlx.DB
	log  logger.Logger
	defs []schemaVersion
}

func NewMigrator(db *sqlx.DB, log logger.Logger) *Migrator {
	return &Migrator{db: db, log: log, defs: schemaVersions()}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

// Migrate applies every schemaVersion not already recorded, in order, each
// inside its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	applied := make(map[int]bool)
	rows, err := m.db.QueryxContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if scanErr := rows.Scan(&v); scanErr != nil {
			rows.Close()
			return fmt.Errorf("scan applied version: %w", scanErr)
		}
		applied[v] = true
	}
	rows.Close()

	for _, def := range m.defs {
		if applied[def.Version] {
			continue
		}
		if err := m.apply(ctx, def); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", def.Version, def.Name, err)
		}
		m.log.Info("applied migration", logger.Int("version", def.Version), logger.String("name", def.Name))
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, def schemaVersion) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, def.Up); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
		def.Version, def.Name); err != nil {
		return err
	}
	return tx.Commit()
}

// schemaVersions is the ordered DDL history for the entity store (§3).
func schemaVersions() []schemaVersion {
	return []schemaVersion{
		{1, "tasks", `
			CREATE TABLE IF NOT EXISTS tasks (
				id BIGSERIAL PRIMARY KEY,
				uuid TEXT NOT NULL UNIQUE,
				version TEXT NOT NULL DEFAULT '1',
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				script_source TEXT NOT NULL DEFAULT '',
				input_schema JSONB NOT NULL DEFAULT '{}',
				output_schema JSONB NOT NULL DEFAULT '{}',
				metadata JSONB NOT NULL DEFAULT '{}',
				enabled BOOLEAN NOT NULL DEFAULT true,
				registry_source BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`},
		{2, "jobs", `
			CREATE TABLE IF NOT EXISTS jobs (
				id BIGSERIAL PRIMARY KEY,
				uuid TEXT NOT NULL UNIQUE,
				task_id BIGINT NOT NULL REFERENCES tasks(id),
				input JSONB NOT NULL,
				priority INTEGER NOT NULL DEFAULT 1,
				status TEXT NOT NULL DEFAULT 'queued',
				scheduled_for TIMESTAMPTZ,
				schedule_id BIGINT,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				output_destinations JSONB NOT NULL DEFAULT '[]',
				correlation_id TEXT NOT NULL,
				lease_id TEXT,
				queued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_jobs_dispatch ON jobs (status, priority DESC, queued_at ASC);`},
		{3, "executions", `
			CREATE TABLE IF NOT EXISTS executions (
				id BIGSERIAL PRIMARY KEY,
				uuid TEXT NOT NULL UNIQUE,
				job_id BIGINT NOT NULL REFERENCES jobs(id),
				task_id BIGINT NOT NULL REFERENCES tasks(id),
				correlation_id TEXT NOT NULL,
				input JSONB NOT NULL,
				output JSONB,
				status TEXT NOT NULL DEFAULT 'pending',
				error_message TEXT,
				error_details JSONB,
				queued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ,
				duration_ms BIGINT,
				worker_id TEXT,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				recording_path TEXT
			)`},
		{4, "schedules", `
			CREATE TABLE IF NOT EXISTS schedules (
				id BIGSERIAL PRIMARY KEY,
				uuid TEXT NOT NULL UNIQUE,
				task_id BIGINT NOT NULL REFERENCES tasks(id),
				cron_expression TEXT NOT NULL,
				timezone TEXT NOT NULL DEFAULT 'UTC',
				enabled BOOLEAN NOT NULL DEFAULT true,
				next_run_at TIMESTAMPTZ NOT NULL,
				last_run_at TIMESTAMPTZ,
				input_template JSONB NOT NULL DEFAULT '{}',
				output_destinations JSONB NOT NULL DEFAULT '[]',
				missed_runs BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`},
		{5, "delivery_results", `
			CREATE TABLE IF NOT EXISTS delivery_results (
				id BIGSERIAL PRIMARY KEY,
				execution_id BIGINT NOT NULL REFERENCES executions(id),
				destination_kind TEXT NOT NULL,
				destination_key TEXT NOT NULL,
				attempt_number INTEGER NOT NULL,
				success BOOLEAN NOT NULL,
				size_bytes BIGINT,
				elapsed_ms BIGINT NOT NULL,
				response_info JSONB,
				error_kind TEXT,
				error_message TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`},
		{6, "sessions", `
			CREATE TABLE IF NOT EXISTS sessions (
				session_id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				expires_at TIMESTAMPTZ NOT NULL,
				client_fingerprint TEXT NOT NULL DEFAULT ''
			)`},
		{7, "tasks_registry_fields", `
			ALTER TABLE tasks ADD COLUMN IF NOT EXISTS content_hash TEXT NOT NULL DEFAULT '';
			ALTER TABLE tasks ADD COLUMN IF NOT EXISTS registry_repository TEXT NOT NULL DEFAULT '';
			ALTER TABLE tasks ADD COLUMN IF NOT EXISTS registry_path TEXT NOT NULL DEFAULT '';
			CREATE UNIQUE INDEX IF NOT EXISTS tasks_registry_source_path_idx
				ON tasks (registry_repository, registry_path) WHERE registry_source`},
		{8, "repository_health", `
			CREATE TABLE IF NOT EXISTS repository_health (
				repository_name TEXT PRIMARY KEY,
				status TEXT NOT NULL DEFAULT 'unknown',
				consecutive_failures INTEGER NOT NULL DEFAULT 0,
				last_sync_at TIMESTAMPTZ,
				last_sync_duration_ms BIGINT NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`},
		{9, "tasks_retry_policy", `
			ALTER TABLE tasks ADD COLUMN IF NOT EXISTS retry_policy JSONB NOT NULL DEFAULT '{}'`},
	}
}
