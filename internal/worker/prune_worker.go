package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/repository"
)

const (
	PruneInterval    = 1 * time.Hour
	AttemptRetention = 24 * time.Hour
)

// PruneWorker periodically deletes rows that have aged out: stale login
// attempts, sessions past their refresh window, and expired IP rules.
type PruneWorker struct {
	attempts *repository.LoginAttemptRepository
	sessions *repository.SessionRepository
	ipRules  *repository.IPRuleRepository
	log      zerolog.Logger
}

func NewPruneWorker(pool *pgxpool.Pool, log zerolog.Logger) *PruneWorker {
	return &PruneWorker{
		attempts: repository.NewLoginAttemptRepository(pool),
		sessions: repository.NewSessionRepository(pool),
		ipRules:  repository.NewIPRuleRepository(pool),
		log:      log.With().Str("component", "prune_worker").Logger(),
	}
}

func (w *PruneWorker) Start(ctx context.Context) {
	w.log.Info().Msg("PruneWorker started")

	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()

	// Run once at startup so a restart does not postpone cleanup.
	w.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("PruneWorker stopping")
			return
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *PruneWorker) prune(ctx context.Context) {
	now := time.Now()

	if n, err := w.attempts.DeleteOlderThan(ctx, now.Add(-AttemptRetention)); err != nil {
		w.log.Error().Err(err).Msg("Failed to prune login attempts")
	} else if n > 0 {
		w.log.Info().Int64("count", n).Msg("Pruned login attempts")
	}

	if n, err := w.sessions.DeleteExpired(ctx, now); err != nil {
		w.log.Error().Err(err).Msg("Failed to prune sessions")
	} else if n > 0 {
		w.log.Info().Int64("count", n).Msg("Pruned expired sessions")
	}

	if n, err := w.ipRules.DeleteExpired(ctx, now); err != nil {
		w.log.Error().Err(err).Msg("Failed to prune IP rules")
	} else if n > 0 {
		w.log.Info().Int64("count", n).Msg("Pruned expired IP rules")
	}
}
