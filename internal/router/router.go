package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Attempt *handler.AttemptHandler
	Unlock  *handler.UnlockHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	rdb *redis.Client,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// Empty AllowedOrigins means allow all so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware(log))
	router.Use(middleware.Metrics())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	loginLimiter := middleware.NewRateLimiter(rdb, "login", cfg.LoginRateLimit, time.Minute, middleware.ByClientIP)
	runLimiter := middleware.NewRateLimiter(rdb, "run", cfg.RunRateLimit, time.Minute, middleware.ByUser)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/student/login", loginLimiter.Middleware(), handlers.Auth.StudentLogin)
		auth.POST("/admin/login", loginLimiter.Middleware(), handlers.Auth.AdminLogin)

		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
		auth.GET("/admin/me", middleware.RequireAdminJWT(authService), handlers.Auth.GetAdminProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/lobby", handlers.Attempt.GetLobby)

		exam := studentAPI.Group("/exams/:exam_id")
		exam.POST("/start", handlers.Attempt.StartExam)
		exam.GET("/state", handlers.Attempt.GetState)
		exam.PUT("/answers", handlers.Attempt.SaveAnswer)
		exam.POST("/submit", handlers.Attempt.SubmitExam)
		exam.POST("/violations", handlers.Attempt.LogViolation)
		exam.POST("/unlock-requests", handlers.Attempt.RequestUnlock)
		exam.POST("/run", runLimiter.Middleware(), handlers.Attempt.RunCode)
		exam.POST("/run-tests", runLimiter.Middleware(), handlers.Attempt.RunTests)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentWSAuth(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.ExamWebSocketStream)
	}

	// ─── 4. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService), middleware.NoStore())
	{
		review := middleware.RequirePermission(model.PermissionAttemptsReview)
		monitor := middleware.RequirePermission(model.PermissionExamsMonitor)

		adminAPI.GET("/exams/:id/unlock-requests", review, handlers.Unlock.ListUnlockRequests)
		adminAPI.POST("/unlock-requests/:id/approve", review, handlers.Unlock.ApproveUnlock)
		adminAPI.POST("/unlock-requests/:id/reject", review, handlers.Unlock.RejectUnlock)
		adminAPI.DELETE("/students/:id/session", review, handlers.Auth.ResetStudentSession)

		adminAPI.GET("/exams/:id/monitor", monitor, handlers.Monitor.MonitorExamSSE)
		adminAPI.GET("/system/status",
			middleware.RequireAnyPermission(model.PermissionExamsMonitor, model.PermissionAttemptsReview),
			handlers.System.SystemStatus,
		)
	}

	return router
}
