package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func csrfRouter() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)

	var seenBody string
	r := gin.New()
	r.POST("/login", CSRFDoubleSubmit(), func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		seenBody = string(body)
		c.Status(http.StatusOK)
	})
	return r, &seenBody
}

func postJSON(r *gin.Engine, body map[string]string, header string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set(HeaderCSRFToken, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCSRFDoubleSubmit(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]string
		header     string
		wantStatus int
	}{
		{"matching tokens pass", map[string]string{"csrf_token": "abc123", "login": "x"}, "abc123", http.StatusOK},
		{"mismatched tokens rejected", map[string]string{"csrf_token": "abc123"}, "other", http.StatusForbidden},
		{"missing header rejected", map[string]string{"csrf_token": "abc123"}, "", http.StatusForbidden},
		{"missing body token rejected", map[string]string{"login": "x"}, "abc123", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := csrfRouter()
			w := postJSON(r, tt.body, tt.header)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestCSRFBodyRestoredForHandler(t *testing.T) {
	r, seenBody := csrfRouter()

	w := postJSON(r, map[string]string{"csrf_token": "tok", "login": "student1"}, "tok")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var decoded map[string]string
	if err := json.Unmarshal([]byte(*seenBody), &decoded); err != nil {
		t.Fatalf("handler saw an unreadable body: %v", err)
	}
	if decoded["login"] != "student1" {
		t.Errorf("handler body = %q, the middleware must restore the full payload", *seenBody)
	}
}

func TestCSRFOversizedBodyRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", CSRFDoubleSubmit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	payload := bytes.Repeat([]byte("a"), maxCSRFBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCSRFToken, "tok")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestCSRFNonJSONBodyRejected(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", CSRFDoubleSubmit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader([]byte("not-json")))
	req.Header.Set(HeaderCSRFToken, "tok")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}
