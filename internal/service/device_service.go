package service

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/model"
)

// ErrDeviceMismatch is returned when a strictly-bound account logs in from
// an unrecognized device.
var ErrDeviceMismatch = errors.New("device fingerprint does not match the bound device")

// FingerprintStore is the account mutation the binder needs. Implemented
// by repository.AccountRepository.
type FingerprintStore interface {
	UpdateDeviceFingerprint(ctx context.Context, id int, fingerprint *string) error
}

// DeviceService computes device fingerprints and enforces the
// role-dependent binding policy.
type DeviceService struct {
	accounts FingerprintStore
	audit    Auditor
	log      zerolog.Logger
}

// NewDeviceService creates a new DeviceService.
func NewDeviceService(accounts FingerprintStore, audit Auditor, log zerolog.Logger) *DeviceService {
	return &DeviceService{
		accounts: accounts,
		audit:    audit,
		log:      log.With().Str("component", "device_service").Logger(),
	}
}

// Fingerprint derives the stable device hash: SHA-512 over a deterministic,
// separator-joined concatenation of the reported characteristics.
func (s *DeviceService) Fingerprint(d model.DeviceInfo) string {
	joined := strings.Join([]string{
		d.UserAgent,
		d.Language,
		d.Platform,
		fmt.Sprintf("%dx%d", d.ScreenWidth, d.ScreenHeight),
		fmt.Sprintf("%d", d.ColorDepth),
		fmt.Sprintf("%d", d.PixelDepth),
		fmt.Sprintf("%d", d.TimezoneOffset),
		fmt.Sprintf("%d", d.HardwareConcurrency),
		fmt.Sprintf("%d", d.MaxTouchPoints),
		fmt.Sprintf("%d", d.DeviceMemory),
		d.CanvasHash,
		d.AudioHash,
	}, "|")

	sum := sha512.Sum512([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// Enforce applies the binding policy at login time.
//
// Students and admins are bound strictly: the first login stores the
// fingerprint, every later login must match it exactly. Teachers are never
// blocked; a changed fingerprint is recorded as a monitoring event and the
// binding silently follows the new device.
func (s *DeviceService) Enforce(ctx context.Context, account *model.Account, fingerprint, ip, userAgent string) error {
	if account.DeviceFingerprint == nil {
		if err := s.accounts.UpdateDeviceFingerprint(ctx, account.ID, &fingerprint); err != nil {
			return fmt.Errorf("bind device: %w", err)
		}
		account.DeviceFingerprint = &fingerprint
		return nil
	}

	if *account.DeviceFingerprint == fingerprint {
		return nil
	}

	if account.Role == model.RoleTeacher {
		s.audit.Record(ctx, model.AuditEvent{
			ActorID:   &account.ID,
			Action:    model.AuditDeviceRebound,
			Reason:    "teacher login from a new device",
			IP:        ip,
			UserAgent: userAgent,
		})
		if err := s.accounts.UpdateDeviceFingerprint(ctx, account.ID, &fingerprint); err != nil {
			return fmt.Errorf("rebind device: %w", err)
		}
		account.DeviceFingerprint = &fingerprint
		return nil
	}

	s.audit.Record(ctx, model.AuditEvent{
		ActorID:   &account.ID,
		Action:    model.AuditDeviceMismatch,
		Reason:    "login from an unbound device",
		IP:        ip,
		UserAgent: userAgent,
	})
	return ErrDeviceMismatch
}

// Reset clears an account's binding so its next login binds a new device.
// Admin-only at the transport layer.
func (s *DeviceService) Reset(ctx context.Context, actorID, accountID int) error {
	if err := s.accounts.UpdateDeviceFingerprint(ctx, accountID, nil); err != nil {
		return fmt.Errorf("reset device binding: %w", err)
	}
	s.audit.Record(ctx, model.AuditEvent{
		ActorID: &actorID,
		Action:  model.AuditDeviceReset,
		Reason:  fmt.Sprintf("binding cleared for account %d", accountID),
	})
	return nil
}
