package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/face"
	"github.com/stemsi/presensi-backend/internal/model"
)

const testPin = "482913"

type fakePins struct {
	lesson *model.Lesson
}

func (f *fakePins) ResolvePin(_ context.Context, pin string) (*model.Lesson, error) {
	if f.lesson != nil && f.lesson.PinCode != nil && *f.lesson.PinCode == pin {
		return f.lesson, nil
	}
	return nil, ErrPinInvalid
}

type fakeAttendance struct {
	records []*model.AttendanceRecord
}

func (f *fakeAttendance) Upsert(_ context.Context, rec *model.AttendanceRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeNotifier struct {
	published []uuid.UUID
}

func (f *fakeNotifier) NotifyCheckin(_ context.Context, lessonID uuid.UUID, _ interface{}) {
	f.published = append(f.published, lessonID)
}

type checkinFixture struct {
	svc        *CheckinService
	attendance *fakeAttendance
	notifier   *fakeNotifier
	audit      *recordingAuditor
	lesson     *model.Lesson
}

// newCheckinFixture builds the pipeline around a lesson geofenced at 150m
// and a face model whose Embed always returns captured.
func newCheckinFixture(t *testing.T, captured face.Descriptor) *checkinFixture {
	t.Helper()

	pin := testPin
	lesson := &model.Lesson{
		ID:           uuid.New(),
		Subject:      "Matematika",
		TeacherID:    10,
		GroupID:      3,
		CenterLat:    -8.6500,
		CenterLon:    115.2100,
		RadiusMeters: 150,
		PinCode:      &pin,
		Active:       true,
	}

	faceModel := &stubModel{
		detections: map[string]*face.Detection{
			"f1": goodDetection(100),
			"f2": goodDetection(104),
			"f3": goodDetection(109),
		},
		descriptor: captured,
	}

	attendance := &fakeAttendance{}
	notifier := &fakeNotifier{}
	audit := &recordingAuditor{}

	return &checkinFixture{
		svc: NewCheckinService(
			&fakePins{lesson: lesson},
			attendance,
			NewGeoService(),
			NewBiometricService(faceModel, &stubDescriptorStore{}, zerolog.Nop()),
			notifier,
			audit,
			zerolog.Nop(),
		),
		attendance: attendance,
		notifier:   notifier,
		audit:      audit,
		lesson:     lesson,
	}
}

func enrolledStudent() *model.Account {
	return &model.Account{
		ID:             1,
		Login:          "student1",
		Role:           model.RoleStudent,
		FaceDescriptor: flatDescriptor(0.1),
		Active:         true,
	}
}

func liveFrames() face.CaptureSource {
	return face.NewFrameSource([][]byte{[]byte("f1"), []byte("f2"), []byte("f3")})
}

// nearReading is ~111m from the lesson center, inside the 150m geofence.
func nearReading() model.GeoReading {
	return model.GeoReading{Latitude: -8.6490, Longitude: 115.2100, Accuracy: 12}
}

func checkinReq(pin string, loc model.GeoReading) model.CheckinRequest {
	return model.CheckinRequest{Pin: pin, Location: loc}
}

func TestCheckinPresent(t *testing.T) {
	// Captured descriptor differs from the enrolled one by 0.30.
	captured := flatDescriptor(0.1)
	captured[0] += 0.30
	fx := newCheckinFixture(t, captured)
	account := enrolledStudent()

	result, err := fx.svc.Run(context.Background(), account, "fp", "10.0.0.1", "ua",
		checkinReq(testPin, nearReading()), liveFrames())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Outcome != OutcomePresent {
		t.Fatalf("outcome = %s (%s), want present", result.Outcome, result.Reason)
	}
	if !result.Persisted {
		t.Error("a present outcome must be persisted")
	}

	if len(fx.attendance.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(fx.attendance.records))
	}
	rec := fx.attendance.records[0]
	if rec.Status != model.AttendancePresent {
		t.Errorf("status = %s, want present", rec.Status)
	}
	if rec.CheckedInAt == nil {
		t.Error("present record must carry a check-in timestamp")
	}
	if rec.DistanceMeters == nil || *rec.DistanceMeters > 150 {
		t.Errorf("distance = %v, want the measured in-radius value", rec.DistanceMeters)
	}
	if len(fx.notifier.published) != 1 || fx.notifier.published[0] != fx.lesson.ID {
		t.Error("persisting must publish one monitor event for the lesson")
	}
}

func TestCheckinInvalidPin(t *testing.T) {
	fx := newCheckinFixture(t, flatDescriptor(0.1))

	result, err := fx.svc.Run(context.Background(), enrolledStudent(), "fp", "10.0.0.1", "ua",
		checkinReq("000000", nearReading()), liveFrames())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Outcome != OutcomeRejected {
		t.Errorf("outcome = %s, want rejected", result.Outcome)
	}
	if result.Persisted || len(fx.attendance.records) != 0 {
		t.Error("an invalid PIN must not write an attendance record")
	}
}

func TestCheckinOutsideGeofence(t *testing.T) {
	fx := newCheckinFixture(t, flatDescriptor(0.1))
	// ~222m north of center, past the 150m radius.
	far := model.GeoReading{Latitude: -8.6480, Longitude: 115.2100, Accuracy: 12}

	result, err := fx.svc.Run(context.Background(), enrolledStudent(), "fp", "10.0.0.1", "ua",
		checkinReq(testPin, far), liveFrames())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Outcome != OutcomeRejected {
		t.Errorf("outcome = %s, want rejected", result.Outcome)
	}
	if len(fx.attendance.records) != 0 {
		t.Error("a GPS rejection must not write an attendance record")
	}
	if len(fx.notifier.published) != 0 {
		t.Error("a GPS rejection must not publish a monitor event")
	}

	found := false
	for _, ev := range fx.audit.events {
		if ev.Action == model.AuditCheckinGps {
			found = true
		}
	}
	if !found {
		t.Error("the rejection must still be audited")
	}
}

func TestCheckinFakeGPSRejected(t *testing.T) {
	fx := newCheckinFixture(t, flatDescriptor(0.1))
	spoofed := nearReading()
	spoofed.Accuracy = 0

	result, err := fx.svc.Run(context.Background(), enrolledStudent(), "fp", "10.0.0.1", "ua",
		checkinReq(testPin, spoofed), liveFrames())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Outcome != OutcomeRejected {
		t.Errorf("outcome = %s, want rejected", result.Outcome)
	}
	if len(fx.attendance.records) != 0 {
		t.Error("a spoofing rejection must not write an attendance record")
	}
}

func TestCheckinNoEnrollment(t *testing.T) {
	fx := newCheckinFixture(t, flatDescriptor(0.1))
	account := enrolledStudent()
	account.FaceDescriptor = nil

	result, err := fx.svc.Run(context.Background(), account, "fp", "10.0.0.1", "ua",
		checkinReq(testPin, nearReading()), liveFrames())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Outcome != OutcomeSuspicious {
		t.Errorf("outcome = %s, want suspicious", result.Outcome)
	}
	if result.Persisted || len(fx.attendance.records) != 0 {
		t.Error("with nothing to match against, the attempt is audit-only")
	}
}

func TestCheckinFaceMismatchPersistedSuspicious(t *testing.T) {
	// Captured descriptor 0.80 away from the enrolled one.
	captured := flatDescriptor(0.1)
	captured[0] += 0.80
	fx := newCheckinFixture(t, captured)

	result, err := fx.svc.Run(context.Background(), enrolledStudent(), "fp", "10.0.0.1", "ua",
		checkinReq(testPin, nearReading()), liveFrames())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Outcome != OutcomeSuspicious {
		t.Fatalf("outcome = %s, want suspicious", result.Outcome)
	}
	if !result.Persisted || len(fx.attendance.records) != 1 {
		t.Fatal("a face mismatch after a valid GPS gate must be persisted")
	}
	rec := fx.attendance.records[0]
	if rec.Status != model.AttendanceSuspicious {
		t.Errorf("status = %s, want suspicious", rec.Status)
	}
	if rec.CheckedInAt != nil {
		t.Error("a suspicious record carries no check-in timestamp")
	}
}

func TestCheckinLivenessRetryBudget(t *testing.T) {
	fx := newCheckinFixture(t, flatDescriptor(0.1))
	account := enrolledStudent()
	ctx := context.Background()

	c := fx.svc.Begin(account, "fp", "10.0.0.1", "ua")
	if err := c.SubmitPin(ctx, testPin); err != nil {
		t.Fatalf("SubmitPin: %v", err)
	}
	if err := c.EvaluateLocation(ctx, nearReading()); err != nil {
		t.Fatalf("EvaluateLocation: %v", err)
	}
	if c.State() != StateFaceGate {
		t.Fatalf("state = %s, want face_gate", c.State())
	}

	// A static photo: every frame maps to the same detection.
	staticFrames := func() face.CaptureSource {
		return face.NewFrameSource([][]byte{[]byte("f1"), []byte("f1"), []byte("f1")})
	}

	for i := 0; i < 2; i++ {
		err := c.VerifyFace(ctx, staticFrames())
		if !errors.Is(err, ErrLivenessRetry) {
			t.Fatalf("run %d: err = %v, want ErrLivenessRetry", i+1, err)
		}
		if c.State() != StateFaceGate {
			t.Fatalf("run %d: state = %s, the attempt must stay at the face gate", i+1, c.State())
		}
	}

	// Third failed run exhausts the budget and closes the attempt.
	if err := c.VerifyFace(ctx, staticFrames()); err != nil {
		t.Fatalf("final run: %v", err)
	}
	result := c.Result()
	if result == nil || result.Outcome != OutcomeSuspicious || !result.Persisted {
		t.Fatalf("result = %+v, want persisted suspicious", result)
	}
	if len(fx.attendance.records) != 1 {
		t.Errorf("persisted %d records, want 1", len(fx.attendance.records))
	}
}

func TestCheckinBadTransition(t *testing.T) {
	fx := newCheckinFixture(t, flatDescriptor(0.1))
	ctx := context.Background()

	c := fx.svc.Begin(enrolledStudent(), "fp", "10.0.0.1", "ua")

	if err := c.EvaluateLocation(ctx, nearReading()); !errors.Is(err, ErrBadTransition) {
		t.Errorf("EvaluateLocation before PIN: err = %v, want ErrBadTransition", err)
	}
	if err := c.VerifyFace(ctx, liveFrames()); !errors.Is(err, ErrBadTransition) {
		t.Errorf("VerifyFace before PIN: err = %v, want ErrBadTransition", err)
	}
}

func TestCheckinReset(t *testing.T) {
	fx := newCheckinFixture(t, flatDescriptor(0.1))
	ctx := context.Background()

	c := fx.svc.Begin(enrolledStudent(), "fp", "10.0.0.1", "ua")
	if err := c.SubmitPin(ctx, testPin); err != nil {
		t.Fatalf("SubmitPin: %v", err)
	}

	c.Reset()
	if c.State() != StatePinEntry || c.Result() != nil {
		t.Error("reset must return to PIN entry with no result")
	}
	if err := c.SubmitPin(ctx, testPin); err != nil {
		t.Errorf("SubmitPin after reset: %v", err)
	}
}

func TestRunLivenessBudgetAcrossRequests(t *testing.T) {
	fx := newCheckinFixture(t, flatDescriptor(0.1))
	account := enrolledStudent()
	ctx := context.Background()

	staticFrames := func() face.CaptureSource {
		return face.NewFrameSource([][]byte{[]byte("f1"), []byte("f1"), []byte("f1")})
	}

	// Each Run is a separate HTTP request; the budget must not reset.
	for i := 0; i < 2; i++ {
		_, err := fx.svc.Run(ctx, account, "fp", "10.0.0.1", "ua",
			checkinReq(testPin, nearReading()), staticFrames())
		if !errors.Is(err, ErrLivenessRetry) {
			t.Fatalf("request %d: err = %v, want ErrLivenessRetry", i+1, err)
		}
	}

	result, err := fx.svc.Run(ctx, account, "fp", "10.0.0.1", "ua",
		checkinReq(testPin, nearReading()), staticFrames())
	if err != nil {
		t.Fatalf("third request: %v", err)
	}
	if result.Outcome != OutcomeSuspicious || !result.Persisted {
		t.Fatalf("result = %+v, want persisted suspicious after the third failed run", result)
	}
	if len(fx.attendance.records) != 1 {
		t.Errorf("persisted %d records, want 1", len(fx.attendance.records))
	}

	// The account's slot is released with the attempt.
	if _, err := fx.svc.Run(ctx, account, "fp", "10.0.0.1", "ua",
		checkinReq(testPin, nearReading()), staticFrames()); !errors.Is(err, ErrLivenessRetry) {
		t.Errorf("a new attempt after a closed one must start with a fresh budget, got %v", err)
	}
}

func TestRunPropagatesLivenessRetry(t *testing.T) {
	fx := newCheckinFixture(t, flatDescriptor(0.1))

	// Static photo upload straight through the single-request path.
	_, err := fx.svc.Run(context.Background(), enrolledStudent(), "fp", "10.0.0.1", "ua",
		checkinReq(testPin, nearReading()),
		face.NewFrameSource([][]byte{[]byte("f1"), []byte("f1"), []byte("f1")}))
	if !errors.Is(err, ErrLivenessRetry) {
		t.Fatalf("err = %v, want ErrLivenessRetry", err)
	}
	if len(fx.attendance.records) != 0 {
		t.Error("a retryable liveness failure must not persist anything")
	}
}
