package face

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPModel implements Model against an external inference service. The
// service endpoint is whatever model runtime the deployment ships; this
// client only depends on the detect/embed contract.
type HTTPModel struct {
	baseURL string
	client  *http.Client
}

// NewHTTPModel creates an HTTPModel for the given base URL.
func NewHTTPModel(baseURL string) *HTTPModel {
	return &HTTPModel{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type inferenceRequest struct {
	Image string `json:"image"` // base64-encoded frame
}

type detectResponse struct {
	Found     bool       `json:"found"`
	Detection *Detection `json:"detection"`
}

type embedResponse struct {
	Found      bool       `json:"found"`
	Descriptor Descriptor `json:"descriptor"`
}

// Detect locates the most prominent face in the frame.
func (m *HTTPModel) Detect(ctx context.Context, frame []byte) (*Detection, error) {
	var out detectResponse
	if err := m.post(ctx, "/v1/detect", frame, &out); err != nil {
		return nil, err
	}
	if !out.Found || out.Detection == nil {
		return nil, ErrNoFace
	}
	return out.Detection, nil
}

// Embed produces the face descriptor for the frame.
func (m *HTTPModel) Embed(ctx context.Context, frame []byte) (Descriptor, error) {
	var out embedResponse
	if err := m.post(ctx, "/v1/embed", frame, &out); err != nil {
		return nil, err
	}
	if !out.Found {
		return nil, ErrNoFace
	}
	if !out.Descriptor.Valid() {
		return nil, fmt.Errorf("model returned %d-dimensional descriptor", len(out.Descriptor))
	}
	return out.Descriptor, nil
}

func (m *HTTPModel) post(ctx context.Context, path string, frame []byte, out interface{}) error {
	body, err := json.Marshal(inferenceRequest{Image: base64.StdEncoding.EncodeToString(frame)})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
