package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/config"
	"github.com/stemsi/exstem-oral/internal/handler"
	"github.com/stemsi/exstem-oral/internal/middleware"
	"github.com/stemsi/exstem-oral/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth       *handler.AuthHandler
	Exam       *handler.ExamHandler
	Submission *handler.SubmissionHandler
	Media      *handler.MediaHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	auth middleware.TokenValidator,
	handlers *Handlers,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// Without AllowedOrigins every origin is allowed so dev works untouched.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality: 5,
		Skipper: middleware.SkipPrefixes("/uploads"),
	}))

	// Uploaded audio is immutable: every file has a fresh UUID name.
	uploadsGroup := router.Group("/uploads")
	uploadsGroup.Use(middleware.StaticCache(31536000))
	{
		uploadsGroup.Static("/", cfg.UploadDir)
	}

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	loginLimiter := middleware.NewRateLimiter(rdb, config.CacheKey.LoginAttemptsKey, 30, time.Minute, log)

	authGroup := router.Group("/api/v1/auth")
	{
		authGroup.POST("/student/login", loginLimiter.Middleware(), handlers.Auth.StudentLogin)
		authGroup.GET("/student/me", middleware.RequireStudentJWT(auth), handlers.Auth.GetStudentProfile)
	}

	// ─── 2. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(auth), middleware.NoStore())
	{
		studentAPI.GET("/tests/:test_id/sections", handlers.Exam.ListSections)
		studentAPI.GET("/sections/:section_id/questions", handlers.Exam.ListQuestions)

		studentAPI.POST("/tests/:test_id/submissions", handlers.Submission.CreateSubmission)
		studentAPI.GET("/submissions/:id", handlers.Submission.GetSubmission)
		studentAPI.POST("/submissions/:id/answers", handlers.Submission.AppendAnswer)
		studentAPI.POST("/submissions/:id/complete", handlers.Submission.CompleteSubmission)

		studentAPI.POST("/media/audio", handlers.Media.UploadAudio)
	}

	return router
}
