package face

import (
	"context"
	"errors"
)

// DescriptorSize is the embedding length every model implementation must produce.
const DescriptorSize = 128

// ErrNoFace is returned by Detect/Embed when no face is found in the frame.
var ErrNoFace = errors.New("no face detected")

// Descriptor is a fixed-length face embedding.
type Descriptor []float64

// Valid reports whether the descriptor has the expected dimensionality.
func (d Descriptor) Valid() bool {
	return len(d) == DescriptorSize
}

// Point is a 2D landmark coordinate in frame pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is a face bounding box in frame pixels.
type Box struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is the result of running the detector on a single frame.
type Detection struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
	Landmarks  []Point `json:"landmarks"`
}

// Model is the pluggable face detection/recognition contract. The matching
// and liveness logic is independent of which concrete model implements it.
type Model interface {
	// Detect locates the most prominent face in the frame.
	Detect(ctx context.Context, frame []byte) (*Detection, error)
	// Embed produces the 128-dimensional descriptor for the face in the frame.
	Embed(ctx context.Context, frame []byte) (Descriptor, error)
}

// CaptureSource yields successive camera frames for a liveness run. Close
// releases the underlying camera resource and must be safe to call after
// the source is exhausted or the context is canceled.
type CaptureSource interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// FrameSource is a CaptureSource over an in-memory frame slice, used for
// uploads where the client captured frames ahead of time.
type FrameSource struct {
	frames [][]byte
	pos    int
}

// NewFrameSource wraps pre-captured frames in a CaptureSource.
func NewFrameSource(frames [][]byte) *FrameSource {
	return &FrameSource{frames: frames}
}

// ErrExhausted is returned by FrameSource.Next when no frames remain.
var ErrExhausted = errors.New("capture source exhausted")

func (s *FrameSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.frames) {
		return nil, ErrExhausted
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *FrameSource) Close() error {
	s.frames = nil
	return nil
}
