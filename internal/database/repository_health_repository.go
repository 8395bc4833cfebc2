package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// RepositoryHealthRepository persists the Health Monitor's per-repository
// rolling state (§4.5.3).
type RepositoryHealthRepository struct {
	db *sqlx.DB
}

func NewRepositoryHealthRepository(db *sqlx.DB) *RepositoryHealthRepository {
	return &RepositoryHealthRepository{db: db}
}

// RepositoryHealthRow mirrors the repository_health table.
type RepositoryHealthRow struct {
	RepositoryName      string     `db:"repository_name"`
	Status              string     `db:"status"`
	ConsecutiveFailures int        `db:"consecutive_failures"`
	LastSyncAt          *time.Time `db:"last_sync_at"`
	LastSyncDurationMs  int64      `db:"last_sync_duration_ms"`
	LastError           string     `db:"last_error"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

func (r *RepositoryHealthRepository) Get(ctx context.Context, name string) (*RepositoryHealthRow, error) {
	var row RepositoryHealthRow
	query := `SELECT repository_name, status, consecutive_failures, last_sync_at,
		last_sync_duration_ms, last_error, updated_at
		FROM repository_health WHERE repository_name = $1`
	if err := r.db.GetContext(ctx, &row, query, name); err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert records the outcome of one sync attempt, replacing the prior row.
func (r *RepositoryHealthRepository) Upsert(ctx context.Context, row *RepositoryHealthRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO repository_health
			(repository_name, status, consecutive_failures, last_sync_at, last_sync_duration_ms, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (repository_name) DO UPDATE SET
			status = EXCLUDED.status,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_sync_at = EXCLUDED.last_sync_at,
			last_sync_duration_ms = EXCLUDED.last_sync_duration_ms,
			last_error = EXCLUDED.last_error,
			updated_at = now()`,
		row.RepositoryName, row.Status, row.ConsecutiveFailures, row.LastSyncAt, row.LastSyncDurationMs, row.LastError)
	if err != nil {
		return fmt.Errorf("upsert repository health: %w", err)
	}
	return nil
}

func (r *RepositoryHealthRepository) List(ctx context.Context) ([]*RepositoryHealthRow, error) {
	var rows []*RepositoryHealthRow
	query := `SELECT repository_name, status, consecutive_failures, last_sync_at,
		last_sync_duration_ms, last_error, updated_at FROM repository_health`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list repository health: %w", err)
	}
	return rows, nil
}
