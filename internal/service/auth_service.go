package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/config"
	"github.com/stemsi/presensi-backend/internal/model"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many failed login attempts")
	ErrIPBlocked          = errors.New("caller IP is blacklisted")
	ErrSessionNotFound    = errors.New("no valid session for this token")
)

// Token sizes in random bytes (hex doubles the length on the wire).
const (
	accessTokenBytes  = 32
	refreshTokenBytes = 64
)

// AccountStore is the account access the credential authority needs.
// Implemented by repository.AccountRepository.
type AccountStore interface {
	GetActiveByLogin(ctx context.Context, login string) (*model.Account, error)
	GetByID(ctx context.Context, id int) (*model.Account, error)
	UpdatePasswordHash(ctx context.Context, id int, hash string) error
}

// SessionStore is implemented by repository.SessionRepository.
type SessionStore interface {
	Replace(ctx context.Context, s *model.Session) error
	GetByAccessToken(ctx context.Context, token string, now time.Time) (*model.Session, error)
	RotateAccessToken(ctx context.Context, refreshToken, newAccessToken string, accessExpiresAt, now time.Time) (*model.Session, error)
	DeleteByAccessToken(ctx context.Context, token string) error
	DeleteByAccountID(ctx context.Context, accountID int) error
}

// AttemptStore is implemented by repository.LoginAttemptRepository.
type AttemptStore interface {
	Insert(ctx context.Context, login, ip string, success bool) error
	CountRecentFailures(ctx context.Context, login, ip string, since time.Time) (int, error)
}

// BlocklistStore is implemented by repository.IPRuleRepository.
type BlocklistStore interface {
	IsBlacklisted(ctx context.Context, address string, now time.Time) (bool, error)
}

// AuthService is the credential authority: it verifies credentials,
// upgrades legacy password hashes, enforces IP blocking and rate limiting,
// and owns the session token lifecycle.
type AuthService struct {
	cfg      *config.Config
	accounts AccountStore
	sessions SessionStore
	attempts AttemptStore
	ipRules  BlocklistStore
	devices  *DeviceService
	audit    Auditor
	log      zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	cfg *config.Config,
	accounts AccountStore,
	sessions SessionStore,
	attempts AttemptStore,
	ipRules BlocklistStore,
	devices *DeviceService,
	audit Auditor,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		cfg:      cfg,
		accounts: accounts,
		sessions: sessions,
		attempts: attempts,
		ipRules:  ipRules,
		devices:  devices,
		audit:    audit,
		log:      log.With().Str("component", "auth_service").Logger(),
	}
}

// Login runs the full authentication pipeline: IP blacklist, rate limit,
// credential verification (with transparent legacy hash upgrade), device
// binding, then session issuance. Every outcome is recorded as a
// LoginAttempt row and an audit event.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest, ip, userAgent string) (*model.Session, *model.Account, error) {
	now := time.Now()

	// 1. IP blacklist, before anything else.
	blocked, err := s.ipRules.IsBlacklisted(ctx, ip, now)
	if err != nil {
		return nil, nil, fmt.Errorf("check ip rules: %w", err)
	}
	if blocked {
		s.recordAttempt(ctx, req.Login, ip, false)
		s.audit.Record(ctx, model.AuditEvent{Action: model.AuditLoginIPBlocked, Reason: req.Login, IP: ip, UserAgent: userAgent})
		return nil, nil, ErrIPBlocked
	}

	// 2. Rate limit, before credentials are even checked. Rate-limited
	// requests are not themselves recorded as attempts, otherwise an
	// attacker could extend a lockout indefinitely.
	failures, err := s.attempts.CountRecentFailures(ctx, req.Login, ip, now.Add(-s.cfg.RateLimitWindow))
	if err != nil {
		return nil, nil, fmt.Errorf("count attempts: %w", err)
	}
	if failures >= s.cfg.RateLimitMaxFailures {
		s.audit.Record(ctx, model.AuditEvent{Action: model.AuditLoginRateLimit, Reason: req.Login, IP: ip, UserAgent: userAgent})
		return nil, nil, ErrRateLimited
	}

	// 3. Account lookup. A missing account yields the same generic error
	// as a wrong password, so logins cannot be enumerated.
	account, err := s.accounts.GetActiveByLogin(ctx, req.Login)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.recordAttempt(ctx, req.Login, ip, false)
			s.audit.Record(ctx, model.AuditEvent{Action: model.AuditLoginFailed, Reason: "unknown login", IP: ip, UserAgent: userAgent})
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("lookup account: %w", err)
	}

	// 4. Password verification, PBKDF2 or legacy plaintext.
	ok, legacy := VerifyPassword(account.PasswordHash, req.Password)
	if !ok {
		s.recordAttempt(ctx, req.Login, ip, false)
		s.audit.Record(ctx, model.AuditEvent{ActorID: &account.ID, Action: model.AuditLoginFailed, Reason: "wrong password", IP: ip, UserAgent: userAgent})
		return nil, nil, ErrInvalidCredentials
	}
	if legacy {
		s.upgradeLegacyHash(ctx, account, req.Password)
	}

	// 5. Device binding policy.
	fingerprint := s.devices.Fingerprint(req.Device)
	if err := s.devices.Enforce(ctx, account, fingerprint, ip, userAgent); err != nil {
		s.recordAttempt(ctx, req.Login, ip, false)
		return nil, nil, err
	}

	// 6. Session issuance. The upsert keyed on account_id replaces any
	// prior session atomically (single-session policy).
	session, err := s.issueSession(ctx, account.ID, fingerprint, now)
	if err != nil {
		return nil, nil, err
	}

	s.recordAttempt(ctx, req.Login, ip, true)
	s.audit.Record(ctx, model.AuditEvent{ActorID: &account.ID, Action: model.AuditLoginSuccess, IP: ip, UserAgent: userAgent})

	return session, account, nil
}

// Refresh issues a new access token on the session identified by a
// still-valid refresh token. The refresh token is not rotated, so the call
// is safe to repeat concurrently.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	now := time.Now()

	accessToken, err := newToken(accessTokenBytes)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.RotateAccessToken(ctx, refreshToken, accessToken, now.Add(s.cfg.AccessTokenTTL), now)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("rotate access token: %w", err)
	}

	s.audit.Record(ctx, model.AuditEvent{ActorID: &session.AccountID, Action: model.AuditTokenRefreshed})
	return session, nil
}

// Validate resolves an access token to the owning account's public
// projection, plus the fingerprint the session was opened with.
func (s *AuthService) Validate(ctx context.Context, accessToken string) (*model.Account, *model.Session, error) {
	session, err := s.sessions.GetByAccessToken(ctx, accessToken, time.Now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("lookup session: %w", err)
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup account: %w", err)
	}
	if !account.Active {
		return nil, nil, ErrSessionNotFound
	}

	return account, session, nil
}

// Logout deletes the session matching the given access token.
func (s *AuthService) Logout(ctx context.Context, accessToken string, actorID int) error {
	if err := s.sessions.DeleteByAccessToken(ctx, accessToken); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.audit.Record(ctx, model.AuditEvent{ActorID: &actorID, Action: model.AuditLogout})
	return nil
}

// RevokeSession force-deletes an account's session. Admin-only at the
// transport layer.
func (s *AuthService) RevokeSession(ctx context.Context, actorID, accountID int) error {
	if err := s.sessions.DeleteByAccountID(ctx, accountID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.audit.Record(ctx, model.AuditEvent{ActorID: &actorID, Action: model.AuditSessionRevoked, Reason: fmt.Sprintf("account %d", accountID)})
	return nil
}

func (s *AuthService) issueSession(ctx context.Context, accountID int, fingerprint string, now time.Time) (*model.Session, error) {
	accessToken, err := newToken(accessTokenBytes)
	if err != nil {
		return nil, err
	}
	refreshToken, err := newToken(refreshTokenBytes)
	if err != nil {
		return nil, err
	}

	session := &model.Session{
		AccountID:        accountID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		Fingerprint:      fingerprint,
		AccessExpiresAt:  now.Add(s.cfg.AccessTokenTTL),
		RefreshExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.sessions.Replace(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return session, nil
}

// upgradeLegacyHash transparently re-hashes a legacy plaintext password to
// the PBKDF2 format. A failed upgrade is logged but never blocks the login.
func (s *AuthService) upgradeLegacyHash(ctx context.Context, account *model.Account, password string) {
	hash, err := HashPassword(password, s.cfg.PBKDF2Iterations)
	if err != nil {
		s.log.Warn().Err(err).Int("account_id", account.ID).Msg("Legacy hash upgrade failed")
		return
	}
	if err := s.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		s.log.Warn().Err(err).Int("account_id", account.ID).Msg("Legacy hash upgrade write failed")
		return
	}
	account.PasswordHash = hash
}

// recordAttempt appends a LoginAttempt row; failures here are logged and
// swallowed so bookkeeping never blocks authentication.
func (s *AuthService) recordAttempt(ctx context.Context, login, ip string, success bool) {
	if err := s.attempts.Insert(ctx, login, ip, success); err != nil {
		s.log.Warn().Err(err).Str("login", login).Msg("Login attempt write failed")
	}
}

// newToken returns n random bytes hex-encoded.
func newToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
