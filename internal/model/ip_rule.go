package model

import "time"

// IPRuleType classifies an IP rule.
type IPRuleType string

const (
	IPRuleBlacklist IPRuleType = "blacklist"
	IPRuleWhitelist IPRuleType = "whitelist"
)

// IPRule blocks or trusts a caller address. Unique per (address, type);
// a nil ExpiresAt means the rule never expires.
type IPRule struct {
	ID        int        `json:"id"`
	Address   string     `json:"address"`
	Type      IPRuleType `json:"type"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateIPRuleRequest is the admin payload for adding an IP rule.
type CreateIPRuleRequest struct {
	Address   string     `json:"address" binding:"required,ip"`
	Type      IPRuleType `json:"type" binding:"required,oneof=blacklist whitelist"`
	ExpiresAt *time.Time `json:"expires_at"`
}
