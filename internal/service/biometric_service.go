package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/presensi-backend/internal/face"
)

// Matching and liveness thresholds.
const (
	matchThreshold    = 0.5 // Euclidean distance below which two descriptors match
	livenessSamples   = 3
	sampleInterval    = 200 * time.Millisecond
	minBoxSize        = 100.0 // px, both dimensions
	minConfidence     = 0.8
	motionThreshold   = 0.5 // px mean landmark displacement between samples
	minQualifySamples = 2
)

var ErrBadDescriptor = errors.New("descriptor must have 128 dimensions")

// MatchResult is the outcome of comparing two face descriptors.
type MatchResult struct {
	Match    bool    `json:"match"`
	Distance float64 `json:"distance"`
}

// LivenessResult summarizes one liveness run over the capture samples.
// BestFrame is the last qualifying frame, suitable for embedding.
type LivenessResult struct {
	Passed    bool     `json:"passed"`
	Qualified int      `json:"qualified"`
	Reasons   []string `json:"reasons,omitempty"`
	BestFrame []byte   `json:"-"`
}

// DescriptorStore is the account mutation enrollment needs. Implemented
// by repository.AccountRepository.
type DescriptorStore interface {
	UpdateFaceDescriptor(ctx context.Context, id int, descriptor []float64) error
}

// BiometricService compares face descriptors and runs the liveness
// heuristic. The concrete detection/embedding model is a pluggable port.
type BiometricService struct {
	model    face.Model
	accounts DescriptorStore
	log      zerolog.Logger
}

// NewBiometricService creates a new BiometricService.
func NewBiometricService(model face.Model, accounts DescriptorStore, log zerolog.Logger) *BiometricService {
	return &BiometricService{
		model:    model,
		accounts: accounts,
		log:      log.With().Str("component", "biometric_service").Logger(),
	}
}

// Enroll stores the account's reference descriptor after validating its
// dimensionality.
func (s *BiometricService) Enroll(ctx context.Context, accountID int, descriptor []float64) error {
	if !face.Descriptor(descriptor).Valid() {
		return ErrBadDescriptor
	}
	if err := s.accounts.UpdateFaceDescriptor(ctx, accountID, descriptor); err != nil {
		return fmt.Errorf("store descriptor: %w", err)
	}
	return nil
}

// Embed produces a descriptor for the face in the frame.
func (s *BiometricService) Embed(ctx context.Context, frame []byte) (face.Descriptor, error) {
	d, err := s.model.Embed(ctx, frame)
	if err != nil {
		return nil, err
	}
	if !d.Valid() {
		return nil, ErrBadDescriptor
	}
	return d, nil
}

// Compare computes the Euclidean distance between two descriptors, rounded
// to 4 decimals. A distance below 0.5 counts as a match.
func (s *BiometricService) Compare(a, b face.Descriptor) (MatchResult, error) {
	if !a.Valid() || !b.Valid() {
		return MatchResult{}, ErrBadDescriptor
	}

	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	distance := math.Round(math.Sqrt(sum)*10000) / 10000

	return MatchResult{
		Match:    distance < matchThreshold,
		Distance: distance,
	}, nil
}

// CheckLiveness samples the capture 3 times at ~200ms spacing. A sample
// qualifies when the detected face is at least 100x100 px with confidence
// >= 0.8 and, after the first sample, the mean landmark displacement from
// the previous sample exceeds the motion threshold (rules out a static
// photo). Liveness passes when at least 2 of 3 samples qualify.
//
// The capture source is closed on every exit path, including cancellation.
func (s *BiometricService) CheckLiveness(ctx context.Context, src face.CaptureSource) (LivenessResult, error) {
	defer func() {
		if err := src.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Capture source close failed")
		}
	}()

	result := LivenessResult{}
	var prev *face.Detection

	for i := 0; i < livenessSamples; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(sampleInterval):
			}
		}

		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, face.ErrExhausted) {
				result.Reasons = append(result.Reasons, "capture ended before enough samples were taken")
				break
			}
			return result, err
		}

		det, err := s.model.Detect(ctx, frame)
		if err != nil {
			if errors.Is(err, face.ErrNoFace) {
				result.Reasons = append(result.Reasons, fmt.Sprintf("sample %d: no face detected", i+1))
				prev = nil
				continue
			}
			return result, err
		}

		if det.Box.Width < minBoxSize || det.Box.Height < minBoxSize {
			result.Reasons = append(result.Reasons, fmt.Sprintf("sample %d: face too small (%.0fx%.0f)", i+1, det.Box.Width, det.Box.Height))
			prev = det
			continue
		}
		if det.Confidence < minConfidence {
			result.Reasons = append(result.Reasons, fmt.Sprintf("sample %d: detector confidence %.2f too low", i+1, det.Confidence))
			prev = det
			continue
		}

		if prev != nil {
			displacement := meanDisplacement(prev.Landmarks, det.Landmarks)
			if displacement <= motionThreshold {
				result.Reasons = append(result.Reasons, fmt.Sprintf("sample %d: no inter-frame motion (%.2fpx)", i+1, displacement))
				prev = det
				continue
			}
		}

		result.Qualified++
		result.BestFrame = frame
		prev = det
	}

	result.Passed = result.Qualified >= minQualifySamples
	return result, nil
}

// meanDisplacement averages the pointwise distance between two landmark
// sets. Mismatched lengths yield zero, which fails the motion requirement.
func meanDisplacement(a, b []face.Point) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		dx := a[i].X - b[i].X
		dy := a[i].Y - b[i].Y
		sum += math.Sqrt(dx*dx + dy*dy)
	}
	return sum / float64(len(a))
}
