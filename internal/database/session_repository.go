package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/northcloud/jobforge/internal/domain"
)

// SessionRepository persists Session lifecycle metadata (§3, §4.4). The
// event log itself lives in Redis Streams (internal/session/eventstore.go),
// not here — this table only tracks liveness for expiry sweeps.
type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at, last_activity_at, expires_at, client_fingerprint)
		VALUES ($1, now(), now(), $2, $3)`,
		s.SessionID, s.ExpiresAt, s.ClientFingerprint)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	query := `SELECT session_id, created_at, last_activity_at, expires_at, client_fingerprint
		FROM sessions WHERE session_id = $1`
	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.KindNotFound, "session not found: "+id, err)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = now(), expires_at = $1 WHERE session_id = $2`,
		expiresAt, id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Delete is idempotent: deleting an already-deleted session is not an error
// (§8's round-trip property for DELETE).
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListExpired returns sessions whose expiry has passed, for the background
// sweeper (internal/session/manager.go).
func (r *SessionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Session, error) {
	var sessions []*domain.Session
	query := `SELECT session_id, created_at, last_activity_at, expires_at, client_fingerprint
		FROM sessions WHERE expires_at <= $1 LIMIT $2`
	if err := r.db.SelectContext(ctx, &sessions, query, now, limit); err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	return sessions, nil
}
