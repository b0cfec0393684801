package model

import "time"

// LoginAttempt is an append-only record used for rate-limit counting.
// Rows older than 24 hours are pruned by the background worker.
type LoginAttempt struct {
	ID          int       `json:"id"`
	Login       string    `json:"login"`
	IP          string    `json:"ip"`
	Success     bool      `json:"success"`
	AttemptedAt time.Time `json:"attempted_at"`
}
