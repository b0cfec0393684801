package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/presensi-backend/internal/middleware"
	"github.com/stemsi/presensi-backend/internal/model"
	"github.com/stemsi/presensi-backend/internal/repository"
	"github.com/stemsi/presensi-backend/internal/response"
	"github.com/stemsi/presensi-backend/internal/service"
	"github.com/stemsi/presensi-backend/internal/validator"
)

// AdminHandler handles admin endpoints: IP rules, device binding resets
// and session revocation.
type AdminHandler struct {
	ipRules       *repository.IPRuleRepository
	deviceService *service.DeviceService
	authService   *service.AuthService
	audit         service.Auditor
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	ipRules *repository.IPRuleRepository,
	deviceService *service.DeviceService,
	authService *service.AuthService,
	audit service.Auditor,
) *AdminHandler {
	return &AdminHandler{
		ipRules:       ipRules,
		deviceService: deviceService,
		authService:   authService,
		audit:         audit,
	}
}

// CreateIPRule godoc
// POST /api/v1/admin/ip-rules
func (h *AdminHandler) CreateIPRule(c *gin.Context) {
	account := middleware.GetAccount(c)
	if account == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateIPRuleRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	rule := &model.IPRule{
		Address:   req.Address,
		Type:      req.Type,
		ExpiresAt: req.ExpiresAt,
	}
	if err := h.ipRules.Create(c.Request.Context(), rule); err != nil {
		if errors.Is(err, repository.ErrDuplicateIPRule) {
			response.Fail(c, http.StatusConflict, response.ErrConflict)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		ActorID: &account.ID,
		Action:  model.AuditIPRuleChanged,
		Reason:  "added " + string(rule.Type) + " rule for " + rule.Address,
	})

	response.Success(c, http.StatusCreated, gin.H{"rule": rule})
}

// ListIPRules godoc
// GET /api/v1/admin/ip-rules
func (h *AdminHandler) ListIPRules(c *gin.Context) {
	rules, err := h.ipRules.List(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"rules": rules})
}

// DeleteIPRule godoc
// DELETE /api/v1/admin/ip-rules/:id
func (h *AdminHandler) DeleteIPRule(c *gin.Context) {
	account := middleware.GetAccount(c)
	if account == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.ipRules.Delete(c.Request.Context(), id); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.audit.Record(c.Request.Context(), model.AuditEvent{
		ActorID: &account.ID,
		Action:  model.AuditIPRuleChanged,
		Reason:  "deleted rule " + c.Param("id"),
	})

	response.Success(c, http.StatusOK, gin.H{})
}

// ResetDevice godoc
// POST /api/v1/admin/accounts/:id/device-reset
// Clears the account's device binding so its next login binds a new device.
func (h *AdminHandler) ResetDevice(c *gin.Context) {
	h.withTargetAccount(c, func(actorID, accountID int) {
		if err := h.deviceService.Reset(c.Request.Context(), actorID, accountID); err != nil {
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}
		response.Success(c, http.StatusOK, gin.H{})
	})
}

// RevokeSession godoc
// POST /api/v1/admin/accounts/:id/revoke-session
func (h *AdminHandler) RevokeSession(c *gin.Context) {
	h.withTargetAccount(c, func(actorID, accountID int) {
		if err := h.authService.RevokeSession(c.Request.Context(), actorID, accountID); err != nil {
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}
		response.Success(c, http.StatusOK, gin.H{})
	})
}

func (h *AdminHandler) withTargetAccount(c *gin.Context, fn func(actorID, accountID int)) {
	account := middleware.GetAccount(c)
	if account == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	accountID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	fn(account.ID, accountID)
}
