// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, compression, authentication, idempotency, and rate
// limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/aixiaozi/go-kids-chat/internal/config"
	"github.com/aixiaozi/go-kids-chat/internal/docs"
	"github.com/aixiaozi/go-kids-chat/internal/domain"
	"github.com/aixiaozi/go-kids-chat/internal/http/handlers"
	"github.com/aixiaozi/go-kids-chat/internal/http/middleware"
	"github.com/aixiaozi/go-kids-chat/internal/repo"
	"github.com/aixiaozi/go-kids-chat/internal/services"
)

// Body caps. Multipart routes get the upload limit times the file count
// plus some slack for the form framing.
const (
	jsonBodyLimit = 1 << 20
	formSlack     = 1 << 20
)

// TokenVerifier is the part of the account service the auth middleware needs.
// *services.AuthService implements it.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, raw string) (*services.Claims, error)
	GetByID(ctx context.Context, id string) (*domain.PublicUser, error)
}

// Authenticator builds the bearer-token check used by the auth middleware.
// A valid token for a deleted account maps to middleware.ErrUnknownUser.
func Authenticator(v TokenVerifier) middleware.Authenticator {
	return func(ctx context.Context, token string) (middleware.Identity, error) {
		claims, err := v.VerifyToken(ctx, token)
		if err != nil {
			return middleware.Identity{}, err
		}
		if _, err := v.GetByID(ctx, claims.UserID); err != nil {
			if errors.Is(err, services.ErrUserNotFound) {
				return middleware.Identity{}, middleware.ErrUnknownUser
			}
			return middleware.Identity{}, err
		}
		return middleware.Identity{UserID: claims.UserID, Email: claims.Email, IsVerified: claims.IsVerified}, nil
	}
}

// idempotencyStore adapts the repo free functions to handlers.IdempotencyStore.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewIdempotencyStore returns a store whose records live for ttl.
func NewIdempotencyStore(db *gorm.DB, ttl time.Duration) handlers.IdempotencyStore {
	return idempotencyStore{db: db, ttl: ttl}
}

func (s idempotencyStore) Get(ctx context.Context, userID, scope, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
}

func (s idempotencyStore) Put(ctx context.Context, rec repo.IdemRecord) error {
	_, err := repo.CreateIdempotency(ctx, s.db, rec, s.ttl)
	return err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. RequestID: generate/propagate correlation id
//  2. RedactingLogger: structured logs with PII scrubbing
//  3. Recovery: capture panics after logger
//  4. OpenTelemetry and Prometheus
//  5. Security headers, CORS, gzip
//  6. OptionalAuth: identify the caller for everything below
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, deps handlers.Deps, auth TokenVerifier, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	api := cfg.APIBasePath

	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", "Cookie"},
	}))
	r.Use(middleware.Recovery())

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
		NoStorePaths: []string{api + "/auth"},
	}))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))

	// SSE must flush per event and file downloads are already compressed
	// or binary.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		api + "/chat/stream",
		api + "/upload/file/",
		"/metrics",
	})))

	authn := Authenticator(auth)
	r.Use(middleware.OptionalAuth(authn))

	if deps.Idempotency == nil && db != nil {
		deps.Idempotency = NewIdempotencyStore(db, cfg.IdempotencyTTL)
	}
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			if deps.Idempotency == nil {
				return false, nil
			}
			rec, err := deps.Idempotency.Get(ctx, userID, scope, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return err == nil && rec != nil, err
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "接口不存在")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "不支持的请求方法")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = api
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if deps.MaxUploadFiles <= 0 {
		deps.MaxUploadFiles = cfg.Upload.MaxFiles
	}
	deps.IdempotencyTTL = cfg.IdempotencyTTL
	h := handlers.New(deps)

	jsonLimit := limitBody(jsonBodyLimit)
	uploadLimit := limitBody(cfg.Upload.MaxFileBytes*int64(max(cfg.Upload.MaxFiles, 5)) + formSlack)
	voiceLimit := limitBody(cfg.Voice.MaxFileBytes + formSlack)

	base := groupWithPrefix(r, api)

	chat := base.Group("/chat", jsonLimit)
	{
		chat.GET("/history", h.ChatHistory)
		chat.POST("/new", h.CreateChat)
		chat.DELETE("/batch/delete", h.BatchDeleteChats)
		chat.GET("/:chatId", h.GetChat)
		chat.DELETE("/:chatId", h.DeleteChat)
		chat.PUT("/:chatId/title", h.UpdateChatTitle)
		chat.POST("/send", h.SendMessage)
		chat.POST("/stream", h.StreamMessage)
	}

	account := base.Group("/auth", jsonLimit)
	{
		account.POST("/check-email", h.CheckEmail)
		account.POST("/send-verification-code", h.SendVerificationCode)
		account.POST("/verify-code", h.VerifyCode)
		account.POST("/register", h.Register)
		account.POST("/login", h.Login)
		account.GET("/me", middleware.RequireAuth(authn), h.Me)
		account.POST("/logout", middleware.RequireAuth(authn), h.Logout)
		account.GET("/stats", h.AuthStats)
		account.POST("/cleanup-codes", h.CleanupCodes)
	}

	upload := base.Group("/upload")
	{
		upload.POST("", uploadLimit, h.Upload)
		upload.POST("/single", uploadLimit, h.UploadSingle)
		upload.POST("/multiple", uploadLimit, h.UploadMultiple)
		upload.GET("/list", h.ListUploads)
		upload.GET("/file/:filename", h.DownloadFile)
		upload.DELETE("/file/:filename", h.DeleteUpload)
	}

	wx := base.Group("/weather", jsonLimit)
	{
		wx.GET("", h.GetWeather)
		wx.POST("/batch", h.WeatherBatch)
		wx.GET("/:city", h.GetWeather)
	}

	srch := base.Group("/search", jsonLimit)
	{
		srch.POST("/test", h.SearchTest)
		srch.GET("/status", h.SearchStatus)
	}

	voice := base.Group("/voice")
	{
		voice.POST("/transcribe", voiceLimit, h.Transcribe)
		voice.POST("/speech-to-text", voiceLimit, h.SpeechToText)
		voice.POST("/translate", jsonLimit, h.Translate)
		voice.GET("/status", h.VoiceStatus)
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// only the listed ones.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
