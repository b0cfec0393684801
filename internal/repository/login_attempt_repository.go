package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LoginAttemptRepository records login attempts for rate-limit counting.
type LoginAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository.
func NewLoginAttemptRepository(pool *pgxpool.Pool) *LoginAttemptRepository {
	return &LoginAttemptRepository{pool: pool}
}

// Insert appends one attempt row.
func (r *LoginAttemptRepository) Insert(ctx context.Context, login, ip string, success bool) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO login_attempts (login, ip, success) VALUES ($1, $2, $3)`,
		login, ip, success,
	)
	return err
}

// CountRecentFailures counts failed attempts since the cutoff matching
// either the submitted login or the caller IP. The count is intentionally
// unlocked; a bounded race under concurrent failures is acceptable.
func (r *LoginAttemptRepository) CountRecentFailures(ctx context.Context, login, ip string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts
		 WHERE success = FALSE AND attempted_at > $3 AND (login = $1 OR ip = $2)`,
		login, ip, since,
	).Scan(&n)
	return n, err
}

// DeleteOlderThan prunes attempt rows past the retention cutoff.
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
