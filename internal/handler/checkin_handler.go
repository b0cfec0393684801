package handler

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/presensi-backend/internal/face"
	"github.com/stemsi/presensi-backend/internal/middleware"
	"github.com/stemsi/presensi-backend/internal/model"
	"github.com/stemsi/presensi-backend/internal/response"
	"github.com/stemsi/presensi-backend/internal/service"
	"github.com/stemsi/presensi-backend/internal/validator"
)

// CheckinHandler drives the student check-in pipeline.
type CheckinHandler struct {
	checkinService *service.CheckinService
}

// NewCheckinHandler creates a new CheckinHandler.
func NewCheckinHandler(checkinService *service.CheckinService) *CheckinHandler {
	return &CheckinHandler{checkinService: checkinService}
}

// Checkin godoc
// POST /api/v1/student/checkin
// Runs one full check-in attempt: PIN, GPS gate, then liveness and face
// matching over the uploaded frames. A failed liveness run returns 422 so
// the client can capture again without losing the attempt.
func (h *CheckinHandler) Checkin(c *gin.Context) {
	account := middleware.GetAccount(c)
	session := middleware.GetSession(c)
	if account == nil || session == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CheckinRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	frames := make([][]byte, 0, len(req.Frames))
	for _, f := range req.Frames {
		data, err := base64.StdEncoding.DecodeString(f.Image)
		if err != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{"frames": "frames must be base64-encoded images"})
			return
		}
		frames = append(frames, data)
	}

	result, err := h.checkinService.Run(
		c.Request.Context(),
		account, session.Fingerprint, c.ClientIP(), c.Request.UserAgent(),
		req, face.NewFrameSource(frames),
	)
	if err != nil {
		if errors.Is(err, service.ErrLivenessRetry) {
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrLivenessFailed)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}
