package service

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/config"
	"github.com/stemsi/presensi-backend/internal/model"
)

type fakeAccounts struct {
	byLogin map[string]*model.Account
}

func (f *fakeAccounts) GetActiveByLogin(_ context.Context, login string) (*model.Account, error) {
	a, ok := f.byLogin[login]
	if !ok || !a.Active {
		return nil, pgx.ErrNoRows
	}
	copied := *a
	return &copied, nil
}

func (f *fakeAccounts) GetByID(_ context.Context, id int) (*model.Account, error) {
	for _, a := range f.byLogin {
		if a.ID == id {
			copied := *a
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeAccounts) UpdatePasswordHash(_ context.Context, id int, hash string) error {
	for _, a := range f.byLogin {
		if a.ID == id {
			a.PasswordHash = hash
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (f *fakeAccounts) UpdateDeviceFingerprint(_ context.Context, id int, fp *string) error {
	for _, a := range f.byLogin {
		if a.ID == id {
			a.DeviceFingerprint = fp
			return nil
		}
	}
	return pgx.ErrNoRows
}

type fakeSessions struct {
	byAccount map[int]*model.Session
	nextID    int
}

func (f *fakeSessions) Replace(_ context.Context, s *model.Session) error {
	if f.byAccount == nil {
		f.byAccount = make(map[int]*model.Session)
	}
	f.nextID++
	s.ID = f.nextID
	s.CreatedAt = time.Now()
	copied := *s
	f.byAccount[s.AccountID] = &copied
	return nil
}

func (f *fakeSessions) GetByAccessToken(_ context.Context, token string, now time.Time) (*model.Session, error) {
	for _, s := range f.byAccount {
		if s.AccessToken == token && s.AccessExpiresAt.After(now) {
			copied := *s
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSessions) RotateAccessToken(_ context.Context, refreshToken, newAccessToken string, accessExpiresAt, now time.Time) (*model.Session, error) {
	for _, s := range f.byAccount {
		if s.RefreshToken == refreshToken && s.RefreshExpiresAt.After(now) {
			s.AccessToken = newAccessToken
			s.AccessExpiresAt = accessExpiresAt
			copied := *s
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSessions) DeleteByAccessToken(_ context.Context, token string) error {
	for id, s := range f.byAccount {
		if s.AccessToken == token {
			delete(f.byAccount, id)
		}
	}
	return nil
}

func (f *fakeSessions) DeleteByAccountID(_ context.Context, accountID int) error {
	delete(f.byAccount, accountID)
	return nil
}

type attemptRow struct {
	login   string
	ip      string
	success bool
	at      time.Time
}

type fakeAttempts struct {
	rows []attemptRow
}

func (f *fakeAttempts) Insert(_ context.Context, login, ip string, success bool) error {
	f.rows = append(f.rows, attemptRow{login: login, ip: ip, success: success, at: time.Now()})
	return nil
}

func (f *fakeAttempts) CountRecentFailures(_ context.Context, login, ip string, since time.Time) (int, error) {
	n := 0
	for _, r := range f.rows {
		if !r.success && r.at.After(since) && (r.login == login || r.ip == ip) {
			n++
		}
	}
	return n, nil
}

type fakeBlocklist struct {
	blocked map[string]bool
}

func (f *fakeBlocklist) IsBlacklisted(_ context.Context, address string, _ time.Time) (bool, error) {
	return f.blocked[address], nil
}

type authFixture struct {
	svc      *AuthService
	accounts *fakeAccounts
	sessions *fakeSessions
	attempts *fakeAttempts
	audit    *recordingAuditor
}

func newAuthFixture(t *testing.T, blocked ...string) *authFixture {
	t.Helper()

	cfg := &config.Config{
		AccessTokenTTL:       12 * time.Hour,
		RefreshTokenTTL:      168 * time.Hour,
		PBKDF2Iterations:     1000, // keep tests fast
		RateLimitMaxFailures: 5,
		RateLimitWindow:      15 * time.Minute,
	}

	hash, err := HashPassword("correct-pw", cfg.PBKDF2Iterations)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	accounts := &fakeAccounts{byLogin: map[string]*model.Account{
		"student1": {ID: 1, Login: "student1", Role: model.RoleStudent, PasswordHash: hash, Active: true},
		"legacy1":  {ID: 2, Login: "legacy1", Role: model.RoleStudent, PasswordHash: "correct-pw", Active: true},
	}}

	blockset := make(map[string]bool)
	for _, ip := range blocked {
		blockset[ip] = true
	}

	sessions := &fakeSessions{}
	attempts := &fakeAttempts{}
	audit := &recordingAuditor{}
	devices := NewDeviceService(accounts, audit, zerolog.Nop())

	return &authFixture{
		svc:      NewAuthService(cfg, accounts, sessions, attempts, &fakeBlocklist{blocked: blockset}, devices, audit, zerolog.Nop()),
		accounts: accounts,
		sessions: sessions,
		attempts: attempts,
		audit:    audit,
	}
}

func loginReq(login, password string) model.LoginRequest {
	return model.LoginRequest{
		Login:     login,
		Password:  password,
		CSRFToken: "tok",
		Device:    testDevice(),
	}
}

func TestLoginSuccess(t *testing.T) {
	fx := newAuthFixture(t)

	session, account, err := fx.svc.Login(context.Background(), loginReq("student1", "correct-pw"), "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if account.ID != 1 {
		t.Errorf("account ID = %d, want 1", account.ID)
	}
	if len(session.AccessToken) != 64 {
		t.Errorf("access token length = %d, want 64 hex chars", len(session.AccessToken))
	}
	if len(session.RefreshToken) != 128 {
		t.Errorf("refresh token length = %d, want 128 hex chars", len(session.RefreshToken))
	}
	if _, err := hex.DecodeString(session.AccessToken); err != nil {
		t.Errorf("access token is not hex: %v", err)
	}

	if n := len(fx.attempts.rows); n != 1 || !fx.attempts.rows[0].success {
		t.Errorf("expected one successful attempt row, got %+v", fx.attempts.rows)
	}
}

func TestLoginReplacesPriorSession(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	first, _, err := fx.svc.Login(ctx, loginReq("student1", "correct-pw"), "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, _, err := fx.svc.Login(ctx, loginReq("student1", "correct-pw"), "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if first.AccessToken == second.AccessToken {
		t.Error("each login must issue fresh tokens")
	}
	if len(fx.sessions.byAccount) != 1 {
		t.Errorf("account must hold exactly one session, got %d", len(fx.sessions.byAccount))
	}
	if _, _, err := fx.svc.Validate(ctx, first.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Error("the first session must be dead after the second login")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	fx := newAuthFixture(t)

	_, _, err := fx.svc.Login(context.Background(), loginReq("student1", "wrong"), "10.0.0.1", "ua")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if n := len(fx.attempts.rows); n != 1 || fx.attempts.rows[0].success {
		t.Errorf("expected one failed attempt row, got %+v", fx.attempts.rows)
	}
}

func TestLoginUnknownAccountSameError(t *testing.T) {
	fx := newAuthFixture(t)

	_, _, err := fx.svc.Login(context.Background(), loginReq("nobody", "whatever"), "10.0.0.1", "ua")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown login must yield the same generic error, got %v", err)
	}
}

func TestLoginRateLimited(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		fx.svc.Login(ctx, loginReq("student1", "wrong"), "10.0.0.1", "ua")
	}

	// The 6th attempt is refused even with the correct password.
	_, _, err := fx.svc.Login(ctx, loginReq("student1", "correct-pw"), "10.0.0.1", "ua")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// Rate-limited requests must not extend the lockout.
	if n := len(fx.attempts.rows); n != 5 {
		t.Errorf("attempt rows = %d, want 5 (the refused request is not recorded)", n)
	}
}

func TestLoginRateLimitCountsByIP(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	// Failures spread over different logins but one IP.
	for i := 0; i < 5; i++ {
		fx.svc.Login(ctx, loginReq("nobody", "x"), "10.0.0.9", "ua")
	}

	_, _, err := fx.svc.Login(ctx, loginReq("student1", "correct-pw"), "10.0.0.9", "ua")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited by shared IP", err)
	}
}

func TestLoginBlockedIP(t *testing.T) {
	fx := newAuthFixture(t, "192.0.2.66")

	_, _, err := fx.svc.Login(context.Background(), loginReq("student1", "correct-pw"), "192.0.2.66", "ua")
	if !errors.Is(err, ErrIPBlocked) {
		t.Fatalf("err = %v, want ErrIPBlocked", err)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	fx := newAuthFixture(t)

	_, _, err := fx.svc.Login(context.Background(), loginReq("legacy1", "correct-pw"), "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	stored := fx.accounts.byLogin["legacy1"].PasswordHash
	if !strings.HasPrefix(stored, "$pbkdf2$") {
		t.Errorf("legacy hash must be upgraded in place, got %q", stored)
	}
	if ok, legacy := VerifyPassword(stored, "correct-pw"); !ok || legacy {
		t.Errorf("upgraded hash must verify as pbkdf2, got ok=%v legacy=%v", ok, legacy)
	}
}

func TestLoginDeviceMismatch(t *testing.T) {
	fx := newAuthFixture(t)
	bound := "some-other-device"
	fx.accounts.byLogin["student1"].DeviceFingerprint = &bound

	_, _, err := fx.svc.Login(context.Background(), loginReq("student1", "correct-pw"), "10.0.0.1", "ua")
	if !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("err = %v, want ErrDeviceMismatch", err)
	}
	if n := len(fx.attempts.rows); n != 1 || fx.attempts.rows[0].success {
		t.Errorf("device mismatch must be recorded as a failed attempt, got %+v", fx.attempts.rows)
	}
}

func TestValidate(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	session, _, err := fx.svc.Login(ctx, loginReq("student1", "correct-pw"), "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	account, got, err := fx.svc.Validate(ctx, session.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if account.ID != 1 || got.AccountID != 1 {
		t.Errorf("resolved account %d / session owner %d, want 1/1", account.ID, got.AccountID)
	}

	if _, _, err := fx.svc.Validate(ctx, "deadbeef"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown token: err = %v, want ErrSessionNotFound", err)
	}

	// Deactivated accounts lose access immediately.
	fx.accounts.byLogin["student1"].Active = false
	if _, _, err := fx.svc.Validate(ctx, session.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("inactive account: err = %v, want ErrSessionNotFound", err)
	}
}

func TestRefresh(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	session, _, err := fx.svc.Login(ctx, loginReq("student1", "correct-pw"), "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshed, err := fx.svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.AccessToken == session.AccessToken {
		t.Error("refresh must mint a new access token")
	}
	if refreshed.RefreshToken != session.RefreshToken {
		t.Error("the refresh token itself is not rotated")
	}

	if _, err := fx.svc.Refresh(ctx, "0000"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown refresh token: err = %v, want ErrSessionNotFound", err)
	}
}

func TestLogout(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	session, _, err := fx.svc.Login(ctx, loginReq("student1", "correct-pw"), "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := fx.svc.Logout(ctx, session.AccessToken, 1); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, _, err := fx.svc.Validate(ctx, session.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("token must be dead after logout, err = %v", err)
	}
}
