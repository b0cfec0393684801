package middleware

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/presensi-backend/internal/response"
)

// HeaderCSRFToken is the dedicated header of the double-submit check.
const HeaderCSRFToken = "X-CSRF-Token"

// maxCSRFBodyBytes caps how much of an unauthenticated request body the
// middleware will buffer for the token check.
const maxCSRFBodyBytes = 1 << 20

// csrfEnvelope peeks at the body's csrf_token field without consuming
// the payload for later binding.
type csrfEnvelope struct {
	CSRFToken string `json:"csrf_token"`
}

// CSRFDoubleSubmit enforces the double-submit token check on
// state-changing requests: the X-CSRF-Token header must byte-for-byte
// equal the csrf_token field in the JSON body. The check runs before any
// data access; the body is restored for the handler's own binding.
func CSRFDoubleSubmit() gin.HandlerFunc {
	return func(c *gin.Context) {
		headerToken := c.GetHeader(HeaderCSRFToken)
		if headerToken == "" {
			response.AbortFail(c, http.StatusForbidden, response.ErrCSRFMismatch)
			return
		}

		raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCSRFBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.AbortFail(c, http.StatusRequestEntityTooLarge, response.ErrInvalidPayload)
				return
			}
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidPayload)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		var envelope csrfEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.CSRFToken == "" {
			response.AbortFail(c, http.StatusForbidden, response.ErrCSRFMismatch)
			return
		}

		if subtle.ConstantTimeCompare([]byte(headerToken), []byte(envelope.CSRFToken)) != 1 {
			response.AbortFail(c, http.StatusForbidden, response.ErrCSRFMismatch)
			return
		}

		c.Next()
	}
}
