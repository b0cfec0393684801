package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/presensi-backend/internal/model"
)

// AuditRepository persists audit events drained from the Redis queue.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// InsertBatch bulk-inserts a batch of events with COPY.
func (r *AuditRepository) InsertBatch(ctx context.Context, events []*model.AuditEvent) error {
	rows := make([][]interface{}, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []interface{}{ev.ID, ev.ActorID, ev.Action, ev.Reason, ev.IP, ev.UserAgent, ev.CreatedAt})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"audit_events"},
		[]string{"id", "actor_id", "action", "reason", "ip", "user_agent", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Insert writes a single event. Used as the row-by-row fallback when a
// bulk insert fails.
func (r *AuditRepository) Insert(ctx context.Context, ev *model.AuditEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_events (id, actor_id, action, reason, ip, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.ActorID, ev.Action, ev.Reason, ev.IP, ev.UserAgent, ev.CreatedAt,
	)
	return err
}
