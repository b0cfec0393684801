package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/presensi-backend/internal/model"
)

// SessionRepository handles session data access. The sessions table carries
// a UNIQUE constraint on account_id, so Replace atomically enforces the
// single-session policy.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, account_id, access_token, refresh_token, fingerprint, access_expires_at, refresh_expires_at, created_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	s := &model.Session{}
	err := row.Scan(&s.ID, &s.AccountID, &s.AccessToken, &s.RefreshToken,
		&s.Fingerprint, &s.AccessExpiresAt, &s.RefreshExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Replace installs the session as the account's only live session. The
// upsert keyed on account_id replaces any prior session in one statement,
// so two near-simultaneous logins can never leave two live sessions.
func (r *SessionRepository) Replace(ctx context.Context, s *model.Session) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO sessions (account_id, access_token, refresh_token, fingerprint, access_expires_at, refresh_expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (account_id) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   fingerprint = EXCLUDED.fingerprint,
		   access_expires_at = EXCLUDED.access_expires_at,
		   refresh_expires_at = EXCLUDED.refresh_expires_at,
		   created_at = CURRENT_TIMESTAMP
		 RETURNING id, created_at`,
		s.AccountID, s.AccessToken, s.RefreshToken, s.Fingerprint, s.AccessExpiresAt, s.RefreshExpiresAt,
	).Scan(&s.ID, &s.CreatedAt)
}

// GetByAccessToken retrieves a session whose access token is still valid.
func (r *SessionRepository) GetByAccessToken(ctx context.Context, token string, now time.Time) (*model.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE access_token = $1 AND access_expires_at > $2`, token, now))
}

// RotateAccessToken installs a new access token and expiry on the session
// identified by a still-valid refresh token. The refresh token itself is
// not rotated, so concurrent refreshes stay idempotent-safe.
func (r *SessionRepository) RotateAccessToken(ctx context.Context, refreshToken, newAccessToken string, accessExpiresAt, now time.Time) (*model.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`UPDATE sessions SET access_token = $2, access_expires_at = $3
		 WHERE refresh_token = $1 AND refresh_expires_at > $4
		 RETURNING `+sessionColumns, refreshToken, newAccessToken, accessExpiresAt, now))
}

// DeleteByAccessToken removes the session matching the given access token.
func (r *SessionRepository) DeleteByAccessToken(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE access_token = $1`, token)
	return err
}

// DeleteByAccountID revokes an account's session, if any.
func (r *SessionRepository) DeleteByAccountID(ctx context.Context, accountID int) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID)
	return err
}

// DeleteExpired removes sessions past their refresh expiry. Called by the
// prune worker.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE refresh_expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
