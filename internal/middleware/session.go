package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/presensi-backend/internal/model"
	"github.com/stemsi/presensi-backend/internal/response"
	"github.com/stemsi/presensi-backend/internal/service"
)

const (
	// ContextKeyAccount is the Gin context key for the resolved account.
	ContextKeyAccount = "account"
	// ContextKeySession is the Gin context key for the resolved session.
	ContextKeySession = "session"
)

// RequireSession resolves the bearer access token to an account through
// the credential authority and stores both on the context.
func RequireSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		account, session, err := authService.Validate(c.Request.Context(), token)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		c.Set(ContextKeyAccount, account)
		c.Set(ContextKeySession, session)
		c.Next()
	}
}

// RequireRole restricts a route to one role. Must run after RequireSession.
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := GetAccount(c)
		if account == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if account.Role != role {
			switch role {
			case model.RoleStudent:
				response.AbortFail(c, http.StatusForbidden, response.ErrStudentAccessOnly)
			case model.RoleTeacher:
				response.AbortFail(c, http.StatusForbidden, response.ErrTeacherAccessOnly)
			case model.RoleAdmin:
				response.AbortFail(c, http.StatusForbidden, response.ErrAdminAccessOnly)
			default:
				response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			}
			return
		}

		c.Next()
	}
}

// GetAccount retrieves the authenticated account from the Gin context.
func GetAccount(c *gin.Context) *model.Account {
	val, exists := c.Get(ContextKeyAccount)
	if !exists {
		return nil
	}
	account, ok := val.(*model.Account)
	if !ok {
		return nil
	}
	return account
}

// GetSession retrieves the resolved session from the Gin context.
func GetSession(c *gin.Context) *model.Session {
	val, exists := c.Get(ContextKeySession)
	if !exists {
		return nil
	}
	session, ok := val.(*model.Session)
	if !ok {
		return nil
	}
	return session
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}

	// Fallback for WebSocket upgrades which cannot send headers.
	return c.Query("token")
}
