package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/config"
	"github.com/stemsi/presensi-backend/internal/model"
)

// Auditor records security events. Implementations must never let a
// failed write reach the caller; auditing is log-then-continue.
type Auditor interface {
	Record(ctx context.Context, ev model.AuditEvent)
}

// AuditService enqueues audit events to Redis; the audit worker drains the
// queue into PostgreSQL in batches. Enqueue failures are logged and
// swallowed so the primary operation is never blocked or rolled back.
type AuditService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(rdb *redis.Client, log zerolog.Logger) *AuditService {
	return &AuditService{
		rdb: rdb,
		log: log.With().Str("component", "audit_service").Logger(),
	}
}

// Record enqueues one audit event. Never returns an error.
func (s *AuditService) Record(ctx context.Context, ev model.AuditEvent) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn().Err(err).Str("action", ev.Action).Msg("Audit event marshal failed")
		return
	}

	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAuditQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("action", ev.Action).Msg("Audit event enqueue failed")
	}
}
