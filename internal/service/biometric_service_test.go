package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/face"
)

// stubModel maps frame bytes to canned detections and embeddings.
type stubModel struct {
	detections map[string]*face.Detection
	descriptor face.Descriptor
}

func (m *stubModel) Detect(_ context.Context, frame []byte) (*face.Detection, error) {
	det, ok := m.detections[string(frame)]
	if !ok || det == nil {
		return nil, face.ErrNoFace
	}
	return det, nil
}

func (m *stubModel) Embed(_ context.Context, _ []byte) (face.Descriptor, error) {
	if m.descriptor == nil {
		return nil, face.ErrNoFace
	}
	return m.descriptor, nil
}

type stubDescriptorStore struct {
	saved map[int][]float64
	err   error
}

func (s *stubDescriptorStore) UpdateFaceDescriptor(_ context.Context, id int, d []float64) error {
	if s.err != nil {
		return s.err
	}
	if s.saved == nil {
		s.saved = make(map[int][]float64)
	}
	s.saved[id] = d
	return nil
}

func goodDetection(lx float64) *face.Detection {
	return &face.Detection{
		Box:        face.Box{Width: 200, Height: 200},
		Confidence: 0.95,
		Landmarks:  []face.Point{{X: lx, Y: 100}, {X: lx + 40, Y: 100}},
	}
}

func flatDescriptor(v float64) face.Descriptor {
	d := make(face.Descriptor, face.DescriptorSize)
	for i := range d {
		d[i] = v
	}
	return d
}

func newTestBiometric(m face.Model) *BiometricService {
	return NewBiometricService(m, &stubDescriptorStore{}, zerolog.Nop())
}

func TestCompare(t *testing.T) {
	s := newTestBiometric(&stubModel{})

	t.Run("identical descriptors match at zero", func(t *testing.T) {
		res, err := s.Compare(flatDescriptor(0.1), flatDescriptor(0.1))
		if err != nil {
			t.Fatalf("Compare: %v", err)
		}
		if !res.Match || res.Distance != 0 {
			t.Errorf("got match=%v distance=%v, want match at 0", res.Match, res.Distance)
		}
	})

	t.Run("distance is rounded to 4 decimals", func(t *testing.T) {
		a := flatDescriptor(0)
		b := flatDescriptor(0)
		b[0] = 0.123456789
		res, err := s.Compare(a, b)
		if err != nil {
			t.Fatalf("Compare: %v", err)
		}
		if res.Distance != 0.1235 {
			t.Errorf("distance = %v, want 0.1235", res.Distance)
		}
		if !res.Match {
			t.Error("0.1235 is below the 0.5 threshold, expected match")
		}
	})

	t.Run("threshold is strict", func(t *testing.T) {
		a := flatDescriptor(0)
		b := flatDescriptor(0)
		b[0] = 0.5 // exact threshold distance
		res, err := s.Compare(a, b)
		if err != nil {
			t.Fatalf("Compare: %v", err)
		}
		if res.Match {
			t.Errorf("distance %v equals the threshold, must not match", res.Distance)
		}
	})

	t.Run("wrong dimensionality", func(t *testing.T) {
		_, err := s.Compare(make(face.Descriptor, 64), flatDescriptor(0))
		if !errors.Is(err, ErrBadDescriptor) {
			t.Errorf("err = %v, want ErrBadDescriptor", err)
		}
	})
}

func TestCheckLivenessPasses(t *testing.T) {
	model := &stubModel{detections: map[string]*face.Detection{
		"f1": goodDetection(100),
		"f2": goodDetection(104), // 4px displacement from f1
		"f3": goodDetection(109),
	}}
	s := newTestBiometric(model)

	res, err := s.CheckLiveness(context.Background(), face.NewFrameSource([][]byte{
		[]byte("f1"), []byte("f2"), []byte("f3"),
	}))
	if err != nil {
		t.Fatalf("CheckLiveness: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass, reasons: %v", res.Reasons)
	}
	if res.Qualified != 3 {
		t.Errorf("qualified = %d, want 3", res.Qualified)
	}
	if string(res.BestFrame) != "f3" {
		t.Errorf("best frame = %q, want the last qualifying frame", res.BestFrame)
	}
}

func TestCheckLivenessStaticPhotoFails(t *testing.T) {
	// Identical landmarks across frames: zero displacement after the first
	// sample, so only one sample qualifies.
	det := goodDetection(100)
	model := &stubModel{detections: map[string]*face.Detection{
		"f1": det, "f2": det, "f3": det,
	}}
	s := newTestBiometric(model)

	res, err := s.CheckLiveness(context.Background(), face.NewFrameSource([][]byte{
		[]byte("f1"), []byte("f2"), []byte("f3"),
	}))
	if err != nil {
		t.Fatalf("CheckLiveness: %v", err)
	}
	if res.Passed {
		t.Error("a static photo must fail liveness")
	}
	if res.Qualified != 1 {
		t.Errorf("qualified = %d, want 1", res.Qualified)
	}
}

func TestCheckLivenessRejectsWeakDetections(t *testing.T) {
	small := goodDetection(100)
	small.Box = face.Box{Width: 80, Height: 120}

	unsure := goodDetection(104)
	unsure.Confidence = 0.6

	model := &stubModel{detections: map[string]*face.Detection{
		"small":  small,
		"unsure": unsure,
		"good":   goodDetection(109),
	}}
	s := newTestBiometric(model)

	res, err := s.CheckLiveness(context.Background(), face.NewFrameSource([][]byte{
		[]byte("small"), []byte("unsure"), []byte("good"),
	}))
	if err != nil {
		t.Fatalf("CheckLiveness: %v", err)
	}
	if res.Passed {
		t.Errorf("only one qualifying sample, must fail; reasons: %v", res.Reasons)
	}
	if len(res.Reasons) != 2 {
		t.Errorf("expected a reason per rejected sample, got %v", res.Reasons)
	}
}

func TestCheckLivenessNoFace(t *testing.T) {
	s := newTestBiometric(&stubModel{})

	res, err := s.CheckLiveness(context.Background(), face.NewFrameSource([][]byte{
		[]byte("f1"), []byte("f2"), []byte("f3"),
	}))
	if err != nil {
		t.Fatalf("CheckLiveness: %v", err)
	}
	if res.Passed || res.Qualified != 0 {
		t.Errorf("no faces anywhere must fail, got passed=%v qualified=%d", res.Passed, res.Qualified)
	}
}

func TestCheckLivenessShortCapture(t *testing.T) {
	model := &stubModel{detections: map[string]*face.Detection{
		"f1": goodDetection(100),
	}}
	s := newTestBiometric(model)

	res, err := s.CheckLiveness(context.Background(), face.NewFrameSource([][]byte{[]byte("f1")}))
	if err != nil {
		t.Fatalf("CheckLiveness: %v", err)
	}
	if res.Passed {
		t.Error("a single-frame capture cannot reach the qualifying minimum")
	}
}

func TestEnroll(t *testing.T) {
	store := &stubDescriptorStore{}
	s := NewBiometricService(&stubModel{}, store, zerolog.Nop())

	if err := s.Enroll(context.Background(), 7, flatDescriptor(0.2)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if len(store.saved[7]) != face.DescriptorSize {
		t.Errorf("stored descriptor length = %d", len(store.saved[7]))
	}

	if err := s.Enroll(context.Background(), 7, make([]float64, 12)); !errors.Is(err, ErrBadDescriptor) {
		t.Errorf("err = %v, want ErrBadDescriptor", err)
	}
}
