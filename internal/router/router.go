package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/presensi-backend/internal/config"
	"github.com/stemsi/presensi-backend/internal/handler"
	"github.com/stemsi/presensi-backend/internal/middleware"
	"github.com/stemsi/presensi-backend/internal/model"
	"github.com/stemsi/presensi-backend/internal/response"
	"github.com/stemsi/presensi-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Checkin *handler.CheckinHandler
	Lesson  *handler.LessonHandler
	Admin   *handler.AdminHandler
	Monitor *handler.MonitorHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", middleware.HeaderCSRFToken}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP). This is
	// transport-level backpressure; the per-login lockout lives in AuthService.
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/login", middleware.CSRFDoubleSubmit(), handlers.Auth.Login)
		auth.POST("/refresh", handlers.Auth.Refresh)

		// Authenticated profile routes
		auth.POST("/logout", middleware.RequireSession(authService), handlers.Auth.Logout)
		auth.GET("/me", middleware.RequireSession(authService), handlers.Auth.Me)
	}

	// ─── 2. Student Group (Session + Role) ─────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireSession(authService),
		middleware.RequireRole(model.RoleStudent),
	)
	{
		studentAPI.POST("/checkin", handlers.Checkin.Checkin)
		studentAPI.POST("/face", handlers.Auth.EnrollFace)
	}

	// ─── 3. Teacher Group (Session + Role) ─────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(
		middleware.RequireSession(authService),
		middleware.RequireRole(model.RoleTeacher),
	)
	{
		teacherAPI.GET("/lessons", handlers.Lesson.List)
		teacherAPI.POST("/lessons", handlers.Lesson.Create)
		teacherAPI.POST("/lessons/:id/start", handlers.Lesson.Start)
		teacherAPI.POST("/lessons/:id/pin", handlers.Lesson.RotatePin)
		teacherAPI.POST("/lessons/:id/close", handlers.Lesson.Close)
		teacherAPI.GET("/lessons/:id/records", handlers.Lesson.Records)
		teacherAPI.PATCH("/lessons/:id/records", handlers.Lesson.Override)
	}

	// ─── 4. WebSocket Group (Teacher Monitor) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireSession(authService),
		middleware.RequireRole(model.RoleTeacher),
	)
	{
		ws.GET("/teacher/lessons/:id/monitor", handlers.Monitor.MonitorLesson)
	}

	// ─── 5. Admin Group (Session + Role) ───────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireSession(authService),
		middleware.RequireRole(model.RoleAdmin),
	)
	{
		adminAPI.GET("/ip-rules", handlers.Admin.ListIPRules)
		adminAPI.POST("/ip-rules", handlers.Admin.CreateIPRule)
		adminAPI.DELETE("/ip-rules/:id", handlers.Admin.DeleteIPRule)

		adminAPI.POST("/accounts/:id/device-reset", handlers.Admin.ResetDevice)
		adminAPI.POST("/accounts/:id/revoke-session", handlers.Admin.RevokeSession)
	}

	return router
}
