package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/northcloud/jobforge/internal/domain"
)

// DeliveryRepository persists one DeliveryResult row per (Execution,
// Destination, Attempt) — §3, §8 invariant 6.
type DeliveryRepository struct {
	db *sqlx.DB
}

func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) Record(ctx context.Context, d *domain.DeliveryResult) error {
	query := `
		INSERT INTO delivery_results (execution_id, destination_kind, destination_key,
			attempt_number, success, size_bytes, elapsed_ms, response_info, error_kind, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`
	row := r.db.QueryRowContext(ctx, query,
		d.ExecutionID, d.DestinationKind, d.DestinationKey, d.AttemptNumber,
		d.Success, d.SizeBytes, d.ElapsedMs, d.ResponseInfo, d.ErrorKind, d.ErrorMessage)
	if err := row.Scan(&d.ID, &d.CreatedAt); err != nil {
		return fmt.Errorf("record delivery result: %w", err)
	}
	return nil
}

// CountAttempts returns how many attempts have already been recorded for a
// (Execution, Destination) pair, used to enforce max_attempts (§8 invariant 6).
func (r *DeliveryRepository) CountAttempts(ctx context.Context, executionID int64, destinationKey string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM delivery_results WHERE execution_id = $1 AND destination_key = $2`,
		executionID, destinationKey)
	if err != nil {
		return 0, fmt.Errorf("count delivery attempts: %w", err)
	}
	return count, nil
}

func (r *DeliveryRepository) ListByExecution(ctx context.Context, executionID int64) ([]*domain.DeliveryResult, error) {
	var results []*domain.DeliveryResult
	query := `SELECT id, execution_id, destination_kind, destination_key, attempt_number,
		success, size_bytes, elapsed_ms, response_info, error_kind, error_message, created_at
		FROM delivery_results WHERE execution_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &results, query, executionID); err != nil {
		return nil, fmt.Errorf("list delivery results: %w", err)
	}
	return results, nil
}
