package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/config"
	"github.com/stemsi/presensi-backend/internal/model"
)

// Common lesson errors.
var (
	ErrPinInvalid     = errors.New("invalid or expired PIN")
	ErrNotLessonOwner = errors.New("lesson belongs to another teacher")
)

// LessonStore is implemented by repository.LessonRepository.
type LessonStore interface {
	Create(ctx context.Context, l *model.Lesson) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Lesson, error)
	GetActiveByPin(ctx context.Context, pin string, now time.Time) (*model.Lesson, error)
	SetPin(ctx context.Context, id uuid.UUID, pin string, expiresAt time.Time) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	ListByTeacher(ctx context.Context, teacherID int) ([]model.Lesson, error)
}

// SeedStore is the attendance access lesson start needs. Implemented by
// repository.AttendanceRepository.
type SeedStore interface {
	SeedAbsent(ctx context.Context, lessonID uuid.UUID, accountIDs []int) error
	OverrideStatus(ctx context.Context, lessonID uuid.UUID, accountID int, status model.AttendanceStatus, reason *string) error
	ListByLesson(ctx context.Context, lessonID uuid.UUID) ([]model.AttendanceRecord, error)
}

// GroupLister is implemented by repository.AccountRepository.
type GroupLister interface {
	ListIDsByGroup(ctx context.Context, groupID int) ([]int, error)
}

// LessonService owns the lesson/PIN lifecycle and the live monitor channel.
type LessonService struct {
	cfg        *config.Config
	lessons    LessonStore
	attendance SeedStore
	accounts   GroupLister
	rdb        *redis.Client
	audit      Auditor
	log        zerolog.Logger
}

// NewLessonService creates a new LessonService.
func NewLessonService(
	cfg *config.Config,
	lessons LessonStore,
	attendance SeedStore,
	accounts GroupLister,
	rdb *redis.Client,
	audit Auditor,
	log zerolog.Logger,
) *LessonService {
	return &LessonService{
		cfg:        cfg,
		lessons:    lessons,
		attendance: attendance,
		accounts:   accounts,
		rdb:        rdb,
		audit:      audit,
		log:        log.With().Str("component", "lesson_service").Logger(),
	}
}

// Create schedules a new lesson for the teacher.
func (s *LessonService) Create(ctx context.Context, teacherID int, req model.CreateLessonRequest) (*model.Lesson, error) {
	lesson := &model.Lesson{
		Subject:      req.Subject,
		TeacherID:    teacherID,
		GroupID:      req.GroupID,
		CenterLat:    req.CenterLat,
		CenterLon:    req.CenterLon,
		RadiusMeters: req.RadiusMeters,
	}
	if err := s.lessons.Create(ctx, lesson); err != nil {
		return nil, fmt.Errorf("create lesson: %w", err)
	}
	return lesson, nil
}

// Start activates the lesson: issues a fresh PIN, caches the PIN lookup in
// Redis, and seeds default-absent attendance rows for the lesson's group.
func (s *LessonService) Start(ctx context.Context, teacherID int, lessonID uuid.UUID) (*model.Lesson, error) {
	lesson, err := s.ownedLesson(ctx, teacherID, lessonID)
	if err != nil {
		return nil, err
	}

	if err := s.issuePin(ctx, lesson); err != nil {
		return nil, err
	}

	students, err := s.accounts.ListIDsByGroup(ctx, lesson.GroupID)
	if err != nil {
		return nil, fmt.Errorf("list group students: %w", err)
	}
	if len(students) > 0 {
		if err := s.attendance.SeedAbsent(ctx, lesson.ID, students); err != nil {
			return nil, fmt.Errorf("seed attendance: %w", err)
		}
	}

	return lesson, nil
}

// RotatePin replaces the lesson's active PIN with a fresh one.
func (s *LessonService) RotatePin(ctx context.Context, teacherID int, lessonID uuid.UUID) (*model.Lesson, error) {
	lesson, err := s.ownedLesson(ctx, teacherID, lessonID)
	if err != nil {
		return nil, err
	}
	if err := s.issuePin(ctx, lesson); err != nil {
		return nil, err
	}
	return lesson, nil
}

// Close deactivates the lesson and expires its PIN.
func (s *LessonService) Close(ctx context.Context, teacherID int, lessonID uuid.UUID) error {
	lesson, err := s.ownedLesson(ctx, teacherID, lessonID)
	if err != nil {
		return err
	}
	if lesson.PinCode != nil {
		s.dropPinCache(ctx, *lesson.PinCode)
	}
	if err := s.lessons.Deactivate(ctx, lesson.ID); err != nil {
		return fmt.Errorf("deactivate lesson: %w", err)
	}
	return nil
}

// ResolvePin maps a submitted PIN to its active lesson: Redis first, DB
// fallback. Returns ErrPinInvalid when no active unexpired lesson matches.
func (s *LessonService) ResolvePin(ctx context.Context, pin string) (*model.Lesson, error) {
	now := time.Now()

	cached, err := s.rdb.Get(ctx, config.CacheKey.PinLookupKey(pin)).Result()
	if err == nil {
		if id, parseErr := uuid.Parse(cached); parseErr == nil {
			lesson, getErr := s.lessons.GetByID(ctx, id)
			if getErr == nil && lesson.Active && lesson.PinCode != nil &&
				*lesson.PinCode == pin && lesson.PinExpiresAt != nil && lesson.PinExpiresAt.After(now) {
				return lesson, nil
			}
		}
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("PIN cache read failed, falling back to DB")
	}

	lesson, err := s.lessons.GetActiveByPin(ctx, pin, now)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPinInvalid
		}
		return nil, fmt.Errorf("resolve pin: %w", err)
	}
	return lesson, nil
}

// ListByTeacher returns the teacher's lessons.
func (s *LessonService) ListByTeacher(ctx context.Context, teacherID int) ([]model.Lesson, error) {
	return s.lessons.ListByTeacher(ctx, teacherID)
}

// Records returns the attendance sheet for a teacher's lesson.
func (s *LessonService) Records(ctx context.Context, teacherID int, lessonID uuid.UUID) ([]model.AttendanceRecord, error) {
	if _, err := s.ownedLesson(ctx, teacherID, lessonID); err != nil {
		return nil, err
	}
	return s.attendance.ListByLesson(ctx, lessonID)
}

// OverrideStatus lets the lesson's teacher mark a student excused or unexcused.
func (s *LessonService) OverrideStatus(ctx context.Context, teacherID int, lessonID uuid.UUID, req model.OverrideStatusRequest) error {
	if _, err := s.ownedLesson(ctx, teacherID, lessonID); err != nil {
		return err
	}

	var reason *string
	if req.Reason != "" {
		reason = &req.Reason
	}
	if err := s.attendance.OverrideStatus(ctx, lessonID, req.AccountID, req.Status, reason); err != nil {
		return fmt.Errorf("override status: %w", err)
	}

	s.audit.Record(ctx, model.AuditEvent{
		ActorID: &teacherID,
		Action:  model.AuditStatusOverride,
		Reason:  fmt.Sprintf("lesson %s student %d -> %s", lessonID, req.AccountID, req.Status),
	})
	return nil
}

// NotifyCheckin publishes a check-in event on the lesson's monitor channel.
// Failures are logged and swallowed; the monitor feed is best-effort.
func (s *LessonService) NotifyCheckin(ctx context.Context, lessonID uuid.UUID, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("Monitor payload marshal failed")
		return
	}
	channel := config.CacheKey.LessonMonitorChannel(lessonID.String())
	if err := s.rdb.Publish(ctx, channel, data).Err(); err != nil {
		s.log.Warn().Err(err).Str("channel", channel).Msg("Monitor publish failed")
	}
}

func (s *LessonService) ownedLesson(ctx context.Context, teacherID int, lessonID uuid.UUID) (*model.Lesson, error) {
	lesson, err := s.lessons.GetByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup lesson: %w", err)
	}
	if lesson.TeacherID != teacherID {
		return nil, ErrNotLessonOwner
	}
	return lesson, nil
}

func (s *LessonService) issuePin(ctx context.Context, lesson *model.Lesson) error {
	oldPin := lesson.PinCode

	pin, err := generatePin()
	if err != nil {
		return err
	}
	expiresAt := time.Now().Add(s.cfg.PinTTL)

	if err := s.lessons.SetPin(ctx, lesson.ID, pin, expiresAt); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	lesson.PinCode = &pin
	lesson.PinExpiresAt = &expiresAt
	lesson.Active = true

	if oldPin != nil {
		s.dropPinCache(ctx, *oldPin)
	}
	if err := s.rdb.Set(ctx, config.CacheKey.PinLookupKey(pin), lesson.ID.String(), s.cfg.PinTTL).Err(); err != nil {
		s.log.Warn().Err(err).Msg("PIN cache write failed")
	}
	return nil
}

func (s *LessonService) dropPinCache(ctx context.Context, pin string) {
	if err := s.rdb.Del(ctx, config.CacheKey.PinLookupKey(pin)).Err(); err != nil {
		s.log.Warn().Err(err).Msg("PIN cache delete failed")
	}
}

// generatePin returns a 6-digit zero-padded numeric PIN.
func generatePin() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	n := binary.BigEndian.Uint32(buf[:]) % 1000000
	return fmt.Sprintf("%06d", n), nil
}
