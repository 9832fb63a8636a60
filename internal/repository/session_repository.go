package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
)

// SessionRepository keeps the single current refresh token on the user row.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a Postgres-backed session store.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// SetRefreshToken overwrites the stored token. It returns sql.ErrNoRows when the user does not exist.
func (r *SessionRepository) SetRefreshToken(ctx context.Context, userID, token string) error {
	const query = `UPDATE users SET refresh_token = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, userID, token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set refresh token: %w", err)
	}
	return requireRow(res)
}

// GetRefreshToken returns the stored token, or "" when the session is cleared.
func (r *SessionRepository) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	const query = `SELECT refresh_token FROM users WHERE id = $1`
	var token sql.NullString
	if err := r.db.GetContext(ctx, &token, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("get refresh token: %w", err)
	}
	return token.String, nil
}

// ClearRefreshToken removes the stored token. Clearing an already cleared session succeeds.
func (r *SessionRepository) ClearRefreshToken(ctx context.Context, userID string) error {
	const query = `UPDATE users SET refresh_token = NULL, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return requireRow(res)
}

// RotateRefreshToken swaps expected for next in one conditional statement, so
// concurrent rotations with the same token cannot both win.
func (r *SessionRepository) RotateRefreshToken(ctx context.Context, userID, expected, next string) error {
	const query = `UPDATE users SET refresh_token = $3, updated_at = $4 WHERE id = $1 AND refresh_token = $2`
	res, err := r.db.ExecContext(ctx, query, userID, expected, next, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return appErrors.ErrRefreshTokenMismatch
	}
	return nil
}
