package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/presensi-backend/internal/middleware"
	"github.com/stemsi/presensi-backend/internal/model"
	"github.com/stemsi/presensi-backend/internal/response"
	"github.com/stemsi/presensi-backend/internal/service"
	"github.com/stemsi/presensi-backend/internal/validator"
)

// LessonHandler handles the teacher-facing lesson lifecycle.
type LessonHandler struct {
	lessonService *service.LessonService
}

// NewLessonHandler creates a new LessonHandler.
func NewLessonHandler(lessonService *service.LessonService) *LessonHandler {
	return &LessonHandler{lessonService: lessonService}
}

// Create godoc
// POST /api/v1/teacher/lessons
func (h *LessonHandler) Create(c *gin.Context) {
	account := middleware.GetAccount(c)
	if account == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateLessonRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	lesson, err := h.lessonService.Create(c.Request.Context(), account.ID, req)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"lesson": lesson})
}

// List godoc
// GET /api/v1/teacher/lessons
func (h *LessonHandler) List(c *gin.Context) {
	account := middleware.GetAccount(c)
	if account == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	lessons, err := h.lessonService.ListByTeacher(c.Request.Context(), account.ID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"lessons": lessons})
}

// Start godoc
// POST /api/v1/teacher/lessons/:id/start
// Activates the lesson: issues a PIN and seeds default-absent rows.
func (h *LessonHandler) Start(c *gin.Context) {
	h.withOwnedLesson(c, func(teacherID int, lessonID uuid.UUID) {
		lesson, err := h.lessonService.Start(c.Request.Context(), teacherID, lessonID)
		if err != nil {
			h.failLesson(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"lesson": lesson})
	})
}

// RotatePin godoc
// POST /api/v1/teacher/lessons/:id/pin
func (h *LessonHandler) RotatePin(c *gin.Context) {
	h.withOwnedLesson(c, func(teacherID int, lessonID uuid.UUID) {
		lesson, err := h.lessonService.RotatePin(c.Request.Context(), teacherID, lessonID)
		if err != nil {
			h.failLesson(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"lesson": lesson})
	})
}

// Close godoc
// POST /api/v1/teacher/lessons/:id/close
func (h *LessonHandler) Close(c *gin.Context) {
	h.withOwnedLesson(c, func(teacherID int, lessonID uuid.UUID) {
		if err := h.lessonService.Close(c.Request.Context(), teacherID, lessonID); err != nil {
			h.failLesson(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{})
	})
}

// Records godoc
// GET /api/v1/teacher/lessons/:id/records
// Returns the lesson's attendance sheet.
func (h *LessonHandler) Records(c *gin.Context) {
	h.withOwnedLesson(c, func(teacherID int, lessonID uuid.UUID) {
		records, err := h.lessonService.Records(c.Request.Context(), teacherID, lessonID)
		if err != nil {
			h.failLesson(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"records": records})
	})
}

// Override godoc
// PATCH /api/v1/teacher/lessons/:id/records
// Marks one student excused or unexcused.
func (h *LessonHandler) Override(c *gin.Context) {
	h.withOwnedLesson(c, func(teacherID int, lessonID uuid.UUID) {
		var req model.OverrideStatusRequest
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}

		if err := h.lessonService.OverrideStatus(c.Request.Context(), teacherID, lessonID, req); err != nil {
			h.failLesson(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{})
	})
}

// withOwnedLesson resolves the caller and the :id path param before running fn.
func (h *LessonHandler) withOwnedLesson(c *gin.Context, fn func(teacherID int, lessonID uuid.UUID)) {
	account := middleware.GetAccount(c)
	if account == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	fn(account.ID, lessonID)
}

func (h *LessonHandler) failLesson(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrNotLessonOwner):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
