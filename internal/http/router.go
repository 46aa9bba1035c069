// Package httpapi assembles the Gin engine: middleware chain, operational
// endpoints and the public API routes, with services built from the injected
// database handle and generator.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-genreq-backend/internal/auth"
	"github.com/tbourn/go-genreq-backend/internal/config"
	"github.com/tbourn/go-genreq-backend/internal/domain"
	"github.com/tbourn/go-genreq-backend/internal/http/handlers"
	"github.com/tbourn/go-genreq-backend/internal/http/middleware"
	"github.com/tbourn/go-genreq-backend/internal/repo"
	"github.com/tbourn/go-genreq-backend/internal/services"
)

// requestRepoShim satisfies services.RequestRepo with the repo package's
// free functions.
type requestRepoShim struct{}

// CreateRequest proxies repo.CreateRequest.
func (requestRepoShim) CreateRequest(ctx context.Context, db *gorm.DB, userID uint, model, prompt string, params domain.Parameters) (*domain.Request, error) {
	return repo.CreateRequest(ctx, db, userID, model, prompt, params)
}

// UpdateRequest proxies repo.UpdateRequest.
func (requestRepoShim) UpdateRequest(ctx context.Context, db *gorm.DB, id uint, text string, status domain.RequestStatus) error {
	return repo.UpdateRequest(ctx, db, id, text, status)
}

// GetRequest proxies repo.GetRequest.
func (requestRepoShim) GetRequest(ctx context.Context, db *gorm.DB, id uint) (*domain.Request, error) {
	return repo.GetRequest(ctx, db, id)
}

// CountUserRequests proxies repo.CountUserRequests (pagination support).
func (requestRepoShim) CountUserRequests(ctx context.Context, db *gorm.DB, userID uint) (int64, error) {
	return repo.CountUserRequests(ctx, db, userID)
}

// ListUserRequestsPage proxies repo.ListUserRequestsPage (pagination support).
func (requestRepoShim) ListUserRequestsPage(ctx context.Context, db *gorm.DB, userID uint, offset, limit int) ([]domain.Request, error) {
	return repo.ListUserRequestsPage(ctx, db, userID, offset, limit)
}

// RequestsStats proxies repo.RequestsStats (ETag support).
func (requestRepoShim) RequestsStats(ctx context.Context, db *gorm.DB, userID uint) (int64, *time.Time, error) {
	return repo.RequestsStats(ctx, db, userID)
}

// GetIdempotency proxies repo.GetIdempotency.
func (requestRepoShim) GetIdempotency(ctx context.Context, db *gorm.DB, userID uint, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, userID, key, now)
}

// CreateIdempotency proxies repo.CreateIdempotency.
func (requestRepoShim) CreateIdempotency(ctx context.Context, db *gorm.DB, userID uint, key string, requestID uint, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, userID, key, requestID, status, ttl)
}

// maxBodyBytes caps request bodies; prompts beyond this are rejected at bind.
const maxBodyBytes = 1 << 20

// RegisterRoutes installs the middleware chain and every endpoint on r.
// gen performs the outbound generation call for POST /request; the API is
// mounted under cfg.APIBasePath while /health, /metrics and /swagger stay at
// the root.
//
// Order: tracing, request id, access log, recovery, body cap, metrics,
// identity, CORS, security headers. Identity never aborts; handlers decide.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, gen services.Generator, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		MaskHeaders: []string{"X-API-Key", "Proxy-Authorization"},
		SkipPaths:   []string{"/health", "/metrics"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	r.Use(middleware.Authenticate(auth.NewJWTAuthenticator(tokens, db)))

	// Results are per-user, so shared caches must not keep them.
	r.Use(corsHandlers(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		NoStore:       true,
		EnablePolicy:  true,
		ExposeHeaders: []string{"ETag", middleware.HeaderIdempotencyReplayed},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/readiness
	r.GET("/health", healthHandler(db))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/generator
	reqSvc := services.NewRequestService(db, requestRepoShim{}, gen)
	reqSvc.EnforceOwnership = cfg.Auth.EnforceOwnership
	if cfg.IdempotencyTTL > 0 {
		reqSvc.IdempotencyTTL = cfg.IdempotencyTTL
	}
	userSvc := services.NewUserService(db, tokens)
	h := handlers.New(reqSvc, userSvc)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Accounts
		api.POST("/auth/register", h.Register)
		api.POST("/auth/token", h.Token)
		api.GET("/users/me", h.Me)

		// Generation requests
		api.POST("/request",
			middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}),
			h.SubmitRequest,
		)
		api.GET("/request/:request_id", h.GetRequest)
		api.GET("/requests", h.ListRequests)
	}
}

// healthHandler reports liveness plus database reachability.
func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("health: database unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "up"})
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
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
