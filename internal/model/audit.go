package model

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions. Every authentication and check-in transition is recorded
// under one of these.
const (
	AuditLoginSuccess    = "login_success"
	AuditLoginFailed     = "login_failed"
	AuditLoginRateLimit  = "login_rate_limited"
	AuditLoginIPBlocked  = "login_ip_blocked"
	AuditDeviceMismatch  = "device_mismatch"
	AuditDeviceRebound   = "device_rebound"
	AuditDeviceReset     = "device_reset"
	AuditLogout          = "logout"
	AuditTokenRefreshed  = "token_refreshed"
	AuditCheckinPin      = "checkin_pin"
	AuditCheckinGps      = "checkin_gps"
	AuditCheckinFace     = "checkin_face"
	AuditCheckinNoFace   = "checkin_no_enrollment"
	AuditCheckinResult   = "checkin_result"
	AuditStatusOverride  = "status_override"
	AuditIPRuleChanged   = "ip_rule_changed"
	AuditSessionRevoked  = "session_revoked"
)

// AuditEvent is an append-only security log entry. Writes go through the
// Redis queue and must never block the operation that produced them.
type AuditEvent struct {
	ID        uuid.UUID `json:"id"`
	ActorID   *int      `json:"actor_id,omitempty"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
