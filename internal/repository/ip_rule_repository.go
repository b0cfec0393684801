package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/presensi-backend/internal/model"
)

var ErrDuplicateIPRule = errors.New("rule for this address and type already exists")

// IPRuleRepository handles IP blacklist/whitelist rules.
type IPRuleRepository struct {
	pool *pgxpool.Pool
}

// NewIPRuleRepository creates a new IPRuleRepository.
func NewIPRuleRepository(pool *pgxpool.Pool) *IPRuleRepository {
	return &IPRuleRepository{pool: pool}
}

// Create inserts a new rule. Unique per (address, type).
func (r *IPRuleRepository) Create(ctx context.Context, rule *model.IPRule) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO ip_rules (address, rule_type, expires_at)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		rule.Address, rule.Type, rule.ExpiresAt,
	).Scan(&rule.ID, &rule.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIPRule
		}
		return err
	}
	return nil
}

// List returns all rules, newest first.
func (r *IPRuleRepository) List(ctx context.Context) ([]model.IPRule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, address, rule_type, expires_at, created_at
		 FROM ip_rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.IPRule
	for rows.Next() {
		var rule model.IPRule
		if err := rows.Scan(&rule.ID, &rule.Address, &rule.Type, &rule.ExpiresAt, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Delete removes a rule by ID.
func (r *IPRuleRepository) Delete(ctx context.Context, id int) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM ip_rules WHERE id = $1`, id)
	return err
}

// IsBlacklisted reports whether the address has a non-expired blacklist rule.
func (r *IPRuleRepository) IsBlacklisted(ctx context.Context, address string, now time.Time) (bool, error) {
	var blocked bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM ip_rules
		   WHERE address = $1 AND rule_type = $2
		     AND (expires_at IS NULL OR expires_at > $3)
		 )`, address, model.IPRuleBlacklist, now,
	).Scan(&blocked)
	return blocked, err
}

// DeleteExpired removes rules past their expiry. Called by the prune worker.
func (r *IPRuleRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM ip_rules WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
