package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/tempvoice/internal/app"
	"github.com/dkeye/tempvoice/internal/app/orch"
	"github.com/dkeye/tempvoice/internal/config"
	"github.com/dkeye/tempvoice/internal/core"
	"github.com/dkeye/tempvoice/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service is the lifecycle surface the admin API drives.
type Service interface {
	SetMasterRoom(ctx context.Context, community domain.CommunityID, room domain.RoomID) error
	Disable(ctx context.Context, community domain.CommunityID) error
	GetStatus(ctx context.Context, community domain.CommunityID) (domain.Status, error)
	BulkCleanup(ctx context.Context, community domain.CommunityID) (domain.SweepResult, error)
	Sweep(ctx context.Context) (domain.SweepResult, error)
}

var _ Service = (*orch.Orchestrator)(nil)

// AdminTokenMiddleware requires "Authorization: Bearer <token>". An empty
// token leaves the API open.
func AdminTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, svc Service) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := cfg.Secret
	if secret == "" {
		log.Warn().Str("module", "adapters.http").Msg("secret is empty, using a per-process session key")
		secret = uuid.NewString()
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600, HttpOnly: true})
	r.Use(sessions.Sessions("TempVoiceSessions", store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.AdminToken == "" {
		log.Warn().Str("module", "adapters.http").Msg("admin_token is empty, admin API is unauthenticated")
	}
	h := &commandHandlers{
		svc:            svc,
		confirmTimeout: cfg.Lifecycle.ConfirmTimeout,
		now:            time.Now,
	}
	if h.confirmTimeout <= 0 {
		h.confirmTimeout = 20 * time.Second
	}
	limiter := NewCommandRateLimiter(cfg.CommandLimit, cfg.CommandWindow)

	api := r.Group("/api", AdminTokenMiddleware(cfg.AdminToken))
	api.GET("/communities/:community/status", h.status)

	cmd := api.Group("", limiter.Middleware())
	cmd.PUT("/communities/:community/master", h.setMaster)
	cmd.DELETE("/communities/:community/master", h.disable)
	cmd.POST("/communities/:community/cleanup", h.startCleanup)
	cmd.POST("/communities/:community/cleanup/confirm", h.confirmCleanup)
	cmd.POST("/communities/:community/cleanup/cancel", h.cancelCleanup)
	cmd.POST("/sweep", h.sweep)

	log.Info().Str("module", "adapters.http").Dur("confirm_timeout", h.confirmTimeout).Msg("router setup")
	return r
}

// statusFor maps lifecycle errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrMasterRoomMissing), errors.Is(err, core.ErrNotConfigured):
		return http.StatusNotFound
	case errors.Is(err, orch.ErrRoomNotInCommunity), errors.Is(err, orch.ErrEphemeralMaster):
		return http.StatusUnprocessableEntity
	case errors.Is(err, app.ErrSweepInProgress):
		return http.StatusConflict
	case errors.Is(err, app.ErrPlatformOperationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("command failed")
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
