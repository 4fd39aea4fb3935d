package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/propfolio/gatekeeper/internal/config"
	"github.com/propfolio/gatekeeper/internal/domain/models"
	"github.com/propfolio/gatekeeper/internal/domain/service"
	"github.com/propfolio/gatekeeper/internal/infrastructure/monitoring"
	"github.com/propfolio/gatekeeper/internal/interfaces/http/handlers"
	"github.com/propfolio/gatekeeper/internal/interfaces/http/middleware"
	"github.com/propfolio/gatekeeper/pkg/constants"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

// Router wires the HTTP surface: health and metrics endpoints, the admin API,
// and the guarded API groups that exercise the admission middleware.
type Router struct {
	engine        *gin.Engine
	config        *config.Config
	logger        logger.Logger
	metrics       *monitoring.Metrics
	rateLimiter   service.RateLimitService
	quotas        service.QuotaService
	auditSvc      service.AuditService
	healthHandler *handlers.HealthHandler
	adminHandler  *handlers.AdminHandler
	server        *http.Server
	routesSet     bool
}

// NewRouter creates the router. Routes are registered on Start.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	metrics *monitoring.Metrics,
	rateLimiter service.RateLimitService,
	quotas service.QuotaService,
	auditSvc service.AuditService,
	healthHandler *handlers.HealthHandler,
	adminHandler *handlers.AdminHandler,
) *Router {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Router{
		engine:        gin.New(),
		config:        cfg,
		logger:        log,
		metrics:       metrics,
		rateLimiter:   rateLimiter,
		quotas:        quotas,
		auditSvc:      auditSvc,
		healthHandler: healthHandler,
		adminHandler:  adminHandler,
	}
}

// SetupRoutes registers middleware and routes on the engine. Safe to call
// more than once; registration happens on the first call only.
func (r *Router) SetupRoutes() {
	if r.routesSet {
		return
	}
	r.routesSet = true

	r.engine.Use(middleware.Recovery(r.logger))
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Tracing())
	r.engine.Use(middleware.Logging(r.logger))

	corsConfig := cors.Config{
		AllowOrigins: r.config.Server.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", constants.HeaderAPIKey, constants.HeaderRequestID},
		ExposeHeaders: []string{
			constants.HeaderRequestID,
			constants.HeaderRateLimitLimit,
			constants.HeaderRateLimitRemaining,
			constants.HeaderRateLimitReset,
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	r.engine.Use(cors.New(corsConfig))

	r.engine.GET("/health", r.healthHandler.HealthCheck)
	r.engine.GET("/ready", r.healthHandler.ReadinessCheck)
	r.engine.GET("/live", r.healthHandler.LivenessCheck)

	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if r.config.Server.Environment != "production" {
		pprof.Register(r.engine)
	}

	configurations := models.DefaultRateLimitConfigurations()

	v1 := r.engine.Group("/api/v1")
	{
		// Each group carries its own window policy; quota applies to the
		// general API surface only.
		api := v1.Group("/")
		api.Use(r.guard(constants.RateLimitContextAPI, configurations))
		if r.config.Quota.Enabled {
			api.Use(middleware.Quota(r.quotas, r.auditSvc, r.metrics, r.logger))
		}
		{
			api.Any("/proxy/*path", r.admitted)
		}

		auth := v1.Group("/auth")
		auth.Use(r.guard(constants.RateLimitContextAuth, configurations))
		{
			auth.POST("/check", r.admitted)
		}

		upload := v1.Group("/uploads")
		upload.Use(r.guard(constants.RateLimitContextUpload, configurations))
		{
			upload.POST("/check", r.admitted)
		}

		search := v1.Group("/search")
		search.Use(r.guard(constants.RateLimitContextSearch, configurations))
		{
			search.GET("/check", r.admitted)
		}
	}

	admin := r.engine.Group("/admin/v1")
	{
		admin.GET("/quotas/:key", r.adminHandler.GetQuota)
		admin.PUT("/quotas/:key", r.adminHandler.SetQuota)
		admin.DELETE("/quotas/:key/usage", r.adminHandler.ResetQuota)
		admin.POST("/quotas/usage-stats", r.adminHandler.UsageStats)
		admin.GET("/rate-limits/:key", r.adminHandler.GetRateLimit)
		admin.DELETE("/rate-limits/:key", r.adminHandler.ResetRateLimit)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
}

// guard builds the rate-limit middleware for a call site, or a pass-through
// when limiting is disabled.
func (r *Router) guard(
	rlContext constants.RateLimitContext,
	configurations map[constants.RateLimitContext]models.RateLimitConfig,
) gin.HandlerFunc {
	if !r.config.RateLimit.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RateLimit(r.rateLimiter, r.auditSvc, r.metrics, r.logger, rlContext, configurations[rlContext])
}

// admitted is the terminal handler for guarded routes. Deployments that front
// an upstream replace this with a reverse proxy; the admission decision and
// its headers have already been applied by the middleware chain.
func (r *Router) admitted(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"admitted": true,
		"caller":   middleware.CallerKey(c),
	})
}

// Start runs the HTTP server until the listener fails or Stop is called.
func (r *Router) Start() error {
	r.SetupRoutes()

	addr := r.config.Server.Addr()
	r.server = &http.Server{
		Addr:           addr,
		Handler:        r.engine,
		ReadTimeout:    time.Duration(r.config.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(r.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(r.config.Server.IdleTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", addr))

	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down, waiting for in-flight requests.
func (r *Router) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.logger.Info(ctx, "Stopping HTTP server")
	return r.server.Shutdown(ctx)
}

// Engine exposes the underlying engine for tests.
func (r *Router) Engine() *gin.Engine {
	r.SetupRoutes()
	return r.engine
}
