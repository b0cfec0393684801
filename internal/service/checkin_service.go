package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/face"
	"github.com/stemsi/presensi-backend/internal/model"
)

// CheckinState is the orchestrator's position in the gate sequence.
type CheckinState string

const (
	StatePinEntry     CheckinState = "pin_entry"
	StateLessonLookup CheckinState = "lesson_lookup"
	StateGpsGate      CheckinState = "gps_gate"
	StateFaceGate     CheckinState = "face_gate"
	StateResult       CheckinState = "result"
)

// CheckinOutcome is the terminal decision of a check-in attempt.
type CheckinOutcome string

const (
	OutcomePresent    CheckinOutcome = "present"
	OutcomeSuspicious CheckinOutcome = "suspicious"
	OutcomeRejected   CheckinOutcome = "rejected"
)

// maxLivenessRuns bounds the local capture retries at the face gate before
// the attempt is closed as suspicious.
const maxLivenessRuns = 3

// Orchestrator errors.
var (
	// ErrBadTransition is returned when a gate is invoked out of order.
	ErrBadTransition = errors.New("operation not valid in current check-in state")
	// ErrLivenessRetry tells the caller to capture again; the attempt
	// stays at the face gate.
	ErrLivenessRetry = errors.New("liveness check failed, capture again")
)

// CheckinResult is the terminal outcome handed back to the client.
type CheckinResult struct {
	Outcome        CheckinOutcome          `json:"outcome"`
	Status         *model.AttendanceStatus `json:"status,omitempty"`
	Reason         string                  `json:"reason,omitempty"`
	DistanceMeters *float64                `json:"distance_m,omitempty"`
	Persisted      bool                    `json:"persisted"`
}

// PinResolver is implemented by LessonService.
type PinResolver interface {
	ResolvePin(ctx context.Context, pin string) (*model.Lesson, error)
}

// AttendanceWriter is implemented by repository.AttendanceRepository.
type AttendanceWriter interface {
	Upsert(ctx context.Context, rec *model.AttendanceRecord) error
}

// CheckinNotifier feeds the live lesson monitor. Implemented by
// LessonService.
type CheckinNotifier interface {
	NotifyCheckin(ctx context.Context, lessonID uuid.UUID, payload interface{})
}

// CheckinService runs the check-in state machine: PIN gate, GPS gate, face
// gate. It is the only component that writes AttendanceRecord rows.
type CheckinService struct {
	pins       PinResolver
	attendance AttendanceWriter
	geo        *GeoService
	biometric  *BiometricService
	notifier   CheckinNotifier
	audit      Auditor
	log        zerolog.Logger

	// Attempts parked at the face gate by a liveness retry, keyed by
	// account ID. The session table enforces one session per account, so
	// one slot per account is enough.
	mu      sync.Mutex
	pending map[int]*Checkin
}

// NewCheckinService creates a new CheckinService.
func NewCheckinService(
	pins PinResolver,
	attendance AttendanceWriter,
	geo *GeoService,
	biometric *BiometricService,
	notifier CheckinNotifier,
	audit Auditor,
	log zerolog.Logger,
) *CheckinService {
	return &CheckinService{
		pins:       pins,
		attendance: attendance,
		geo:        geo,
		biometric:  biometric,
		notifier:   notifier,
		audit:      audit,
		log:        log.With().Str("component", "checkin_service").Logger(),
		pending:    make(map[int]*Checkin),
	}
}

// Checkin is one student's attempt flowing through the gates. It holds the
// transient capture state; Reset discards it and returns to PIN entry.
type Checkin struct {
	svc *CheckinService

	account     *model.Account
	fingerprint string
	ip          string
	userAgent   string

	state        CheckinState
	lesson       *model.Lesson
	geoResult    *GeoResult
	livenessRuns int
	result       *CheckinResult
}

// Begin opens a new check-in attempt for the authenticated student. The
// fingerprint is the one the session was opened with; device binding was
// already enforced at login.
func (s *CheckinService) Begin(account *model.Account, fingerprint, ip, userAgent string) *Checkin {
	return &Checkin{
		svc:         s,
		account:     account,
		fingerprint: fingerprint,
		ip:          ip,
		userAgent:   userAgent,
		state:       StatePinEntry,
	}
}

// State returns the current state.
func (c *Checkin) State() CheckinState {
	return c.state
}

// Result returns the terminal outcome, or nil while the attempt is still
// in flight.
func (c *Checkin) Result() *CheckinResult {
	return c.result
}

// Reset returns to PIN entry and discards all transient capture state.
func (c *Checkin) Reset() {
	c.state = StatePinEntry
	c.lesson = nil
	c.geoResult = nil
	c.livenessRuns = 0
	c.result = nil
}

// SubmitPin resolves the PIN to an active lesson. An invalid or expired
// PIN terminates the attempt as rejected; nothing is persisted.
func (c *Checkin) SubmitPin(ctx context.Context, pin string) error {
	if c.state != StatePinEntry {
		return ErrBadTransition
	}
	c.state = StateLessonLookup

	lesson, err := c.svc.pins.ResolvePin(ctx, pin)
	if err != nil {
		if errors.Is(err, ErrPinInvalid) {
			c.svc.auditStep(ctx, c, model.AuditCheckinPin, "invalid or expired PIN")
			c.finish(OutcomeRejected, nil, "invalid or expired PIN", nil, false)
			return nil
		}
		return err
	}

	c.lesson = lesson
	c.state = StateGpsGate
	c.svc.auditStep(ctx, c, model.AuditCheckinPin, fmt.Sprintf("lesson %s", lesson.ID))
	return nil
}

// EvaluateLocation runs the GPS gate. Fake-GPS signals or an out-of-range
// position terminate the attempt as rejected with only an audit entry; no
// AttendanceRecord is written for someone who never plausibly attended. A
// passing position moves to the face gate, unless the account has no
// registered descriptor, which closes the attempt as suspicious (audit
// only: there is nothing to match against).
func (c *Checkin) EvaluateLocation(ctx context.Context, reading model.GeoReading) error {
	if c.state != StateGpsGate {
		return ErrBadTransition
	}

	res := c.svc.geo.Evaluate(
		reading.Latitude, reading.Longitude, reading.Accuracy, c.userAgent,
		c.lesson.CenterLat, c.lesson.CenterLon, c.lesson.RadiusMeters,
	)
	c.geoResult = &res
	distance := res.DistanceMeters

	if res.IsFakeGPS {
		reason := "GPS spoofing suspected: " + strings.Join(res.Reasons, "; ")
		c.svc.auditStep(ctx, c, model.AuditCheckinGps, reason)
		c.finish(OutcomeRejected, nil, reason, &distance, false)
		return nil
	}
	if !res.WithinRadius {
		reason := fmt.Sprintf("outside geofence: %.0fm from center (radius %.0fm)", res.DistanceMeters, c.lesson.RadiusMeters)
		c.svc.auditStep(ctx, c, model.AuditCheckinGps, reason)
		c.finish(OutcomeRejected, nil, reason, &distance, false)
		return nil
	}

	c.svc.auditStep(ctx, c, model.AuditCheckinGps, fmt.Sprintf("within geofence (%.0fm)", res.DistanceMeters))

	if !face.Descriptor(c.account.FaceDescriptor).Valid() {
		c.svc.auditStep(ctx, c, model.AuditCheckinNoFace, "no biometric enrollment")
		c.finish(OutcomeSuspicious, nil, "no biometric enrollment", &distance, false)
		return nil
	}

	c.state = StateFaceGate
	return nil
}

// VerifyFace runs the face gate: liveness first, then descriptor matching.
// A failed liveness run keeps the attempt at the face gate and returns
// ErrLivenessRetry until the retry budget is exhausted, after which the
// attempt is persisted as suspicious. Match results are always persisted:
// the attempt is identified and GPS-validated, so it is worth auditing.
func (c *Checkin) VerifyFace(ctx context.Context, src face.CaptureSource) error {
	if c.state != StateFaceGate {
		return ErrBadTransition
	}

	liveness, err := c.svc.biometric.CheckLiveness(ctx, src)
	if err != nil {
		return fmt.Errorf("liveness check: %w", err)
	}

	if !liveness.Passed {
		c.livenessRuns++
		reason := "liveness check failed: " + strings.Join(liveness.Reasons, "; ")
		c.svc.auditStep(ctx, c, model.AuditCheckinFace, reason)

		if c.livenessRuns < maxLivenessRuns {
			return ErrLivenessRetry
		}
		return c.persistAndFinish(ctx, OutcomeSuspicious, model.AttendanceSuspicious, "liveness check failed", nil)
	}

	descriptor, err := c.svc.biometric.Embed(ctx, liveness.BestFrame)
	if err != nil {
		return fmt.Errorf("embed capture: %w", err)
	}

	match, err := c.svc.biometric.Compare(descriptor, face.Descriptor(c.account.FaceDescriptor))
	if err != nil {
		return fmt.Errorf("compare descriptors: %w", err)
	}

	if !match.Match {
		reason := fmt.Sprintf("face mismatch (distance %.4f)", match.Distance)
		c.svc.auditStep(ctx, c, model.AuditCheckinFace, reason)
		return c.persistAndFinish(ctx, OutcomeSuspicious, model.AttendanceSuspicious, reason, nil)
	}

	c.svc.auditStep(ctx, c, model.AuditCheckinFace, fmt.Sprintf("face match (distance %.4f)", match.Distance))
	now := time.Now()
	return c.persistAndFinish(ctx, OutcomePresent, model.AttendancePresent, "", &now)
}

// finish moves to the terminal state without touching the store.
func (c *Checkin) finish(outcome CheckinOutcome, status *model.AttendanceStatus, reason string, distance *float64, persisted bool) {
	c.state = StateResult
	c.result = &CheckinResult{
		Outcome:        outcome,
		Status:         status,
		Reason:         reason,
		DistanceMeters: distance,
		Persisted:      persisted,
	}
}

// persistAndFinish upserts the AttendanceRecord for (lesson, student) and
// publishes the monitor event. The upsert is atomic on the pair's unique
// constraint, so repeated check-ins never duplicate rows.
func (c *Checkin) persistAndFinish(ctx context.Context, outcome CheckinOutcome, status model.AttendanceStatus, reason string, checkedInAt *time.Time) error {
	var distance *float64
	var fakeGPS bool
	if c.geoResult != nil {
		d := c.geoResult.DistanceMeters
		distance = &d
		fakeGPS = c.geoResult.IsFakeGPS
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	var fingerprint *string
	if c.fingerprint != "" {
		fingerprint = &c.fingerprint
	}

	rec := &model.AttendanceRecord{
		LessonID:          c.lesson.ID,
		AccountID:         c.account.ID,
		Status:            status,
		DistanceMeters:    distance,
		FakeGPS:           fakeGPS,
		Reason:            reasonPtr,
		DeviceFingerprint: fingerprint,
		CheckedInAt:       checkedInAt,
	}
	if err := c.svc.attendance.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("persist attendance: %w", err)
	}

	c.svc.auditStep(ctx, c, model.AuditCheckinResult, string(status))
	c.svc.notifier.NotifyCheckin(ctx, c.lesson.ID, rec)
	c.finish(outcome, &status, reason, distance, true)
	return nil
}

// Run drives a full attempt from one request: PIN, location, then a single
// liveness/matching pass. ErrLivenessRetry propagates so the client can
// capture again; the attempt stays parked at the face gate, so the retry
// budget counts across requests and cannot be reset by re-submitting.
func (s *CheckinService) Run(ctx context.Context, account *model.Account, fingerprint, ip, userAgent string, req model.CheckinRequest, src face.CaptureSource) (*CheckinResult, error) {
	c := s.resumePending(account.ID, req.Pin)
	if c == nil {
		c = s.Begin(account, fingerprint, ip, userAgent)

		if err := c.SubmitPin(ctx, req.Pin); err != nil {
			return nil, err
		}
		if c.Result() != nil {
			return c.Result(), nil
		}

		if err := c.EvaluateLocation(ctx, req.Location); err != nil {
			return nil, err
		}
		if c.Result() != nil {
			return c.Result(), nil
		}
	}

	if err := c.VerifyFace(ctx, src); err != nil {
		if errors.Is(err, ErrLivenessRetry) {
			s.parkPending(account.ID, c)
		}
		return nil, err
	}
	return c.Result(), nil
}

// resumePending returns the account's parked attempt if the PIN still
// resolves to the same lesson. A different or rotated PIN discards it and
// the gates run fresh.
func (s *CheckinService) resumePending(accountID int, pin string) *Checkin {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.pending[accountID]
	if !ok {
		return nil
	}
	delete(s.pending, accountID)

	if c.state != StateFaceGate || c.lesson == nil || c.lesson.PinCode == nil || *c.lesson.PinCode != pin {
		return nil
	}
	return c
}

func (s *CheckinService) parkPending(accountID int, c *Checkin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[accountID] = c
}

// auditStep records one transition. Audit failures never block the
// transition itself (log-then-continue inside the Auditor).
func (s *CheckinService) auditStep(ctx context.Context, c *Checkin, action, reason string) {
	s.audit.Record(ctx, model.AuditEvent{
		ActorID:   &c.account.ID,
		Action:    action,
		Reason:    reason,
		IP:        c.ip,
		UserAgent: c.userAgent,
	})
}
