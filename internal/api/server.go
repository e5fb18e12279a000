package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"erasure-cloud/config"
	"erasure-cloud/internal/accounts"
	"erasure-cloud/internal/apperr"
	"erasure-cloud/internal/auth"
	"erasure-cloud/internal/cache"
	"erasure-cloud/internal/inventory"
	"erasure-cloud/internal/license"
	"erasure-cloud/internal/logging"
	"erasure-cloud/internal/monitor"
	"erasure-cloud/internal/rbac"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-r.window)

	// Filter out old requests
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// HealthChecker is the main database as seen by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PoolCounter reports how many dedicated pools are open, e.g. *tenant.PoolRegistry.
type PoolCounter interface {
	OpenPools() int
}

// Deps are the services the API serves. Cache, Pools and Hub may be nil.
type Deps struct {
	Main      HealthChecker
	Auth      *auth.Service
	Accounts  *accounts.Service
	Inventory *inventory.Service
	Licenses  *license.Engine
	Hub       *LicenseHub
	Monitor   *monitor.Monitor
	Cache     *cache.CacheService
	Pools     PoolCounter
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     config.ServerConfig
	deps       Deps
	logger     zerolog.Logger

	// publicLimiter throttles unauthenticated license client calls per address.
	publicLimiter *RateLimiter
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps, production bool, logger zerolog.Logger) *Server {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(logger))
	router.Use(monitor.GinMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "Content-Disposition"}
	if origins := allowedOrigins(cfg.AllowedOrigins); len(origins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:        router,
		config:        cfg,
		deps:          deps,
		logger:        logger.With().Str("component", "api").Logger(),
		publicLimiter: NewRateLimiter(60, time.Minute),
	}
	server.setupRoutes()
	return server
}

func allowedOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			return nil
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// publicRateLimit limits unauthenticated calls by client address and route.
func (s *Server) publicRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.publicLimiter.Allow(c.ClientIP() + " " + c.FullPath()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth.NewHandlers(s.deps.Auth).RegisterRoutes(s.router.Group("/api/auth"))

	// License client endpoints (public, keyed by license)
	public := s.router.Group("/api/license", s.publicRateLimit())
	{
		public.POST("/activate", s.handleActivate)
		public.POST("/sync", s.handleSync)
		public.POST("/offline/request-code", s.handleOfflineRequestCode)
		public.POST("/offline/submit", s.handleOfflineSubmit)
		public.POST("/offline/validate", s.handleOfflineValidate)
		public.POST("/verify-token", s.handleVerifyToken)
		public.GET("/watch/:key", s.handleLicenseWatch)
	}

	api := s.router.Group("/api", auth.Middleware(s.deps.Auth))

	// Accounts
	api.GET("/accounts", s.handleListAccounts)
	api.POST("/accounts", s.handleCreateAccount)
	api.GET("/accounts/:email", s.handleGetAccount)
	api.PATCH("/accounts/:email", s.handleUpdateAccount)
	api.PUT("/accounts/:email/status", s.handleSetAccountStatus)
	api.PUT("/accounts/:email/limits", s.handleSetAccountLimits)
	api.POST("/accounts/:email/licenses", s.handleAdjustLicenses)
	api.DELETE("/accounts/:email", s.handleDeleteAccount)
	api.POST("/accounts/:email/private-cloud", s.handleEnablePrivateCloud)
	api.DELETE("/accounts/:email/private-cloud", s.handleDisablePrivateCloud)

	// Subaccounts
	api.GET("/subaccounts", s.handleListSubaccounts)
	api.POST("/subaccounts", s.handleCreateSubaccount)
	api.GET("/subaccounts/:email", s.handleGetSubaccount)
	api.PATCH("/subaccounts/:email", s.handleUpdateSubaccount)
	api.PUT("/subaccounts/:email/status", s.handleSetSubaccountStatus)
	api.PUT("/subaccounts/:email/licenses", s.handleSetSubaccountLicenses)
	api.DELETE("/subaccounts/:email", s.handleDeleteSubaccount)

	// Roles and permissions
	api.GET("/roles", s.handleListRoles)
	api.POST("/roles", s.handleCreateRole)
	api.GET("/permissions", s.handleListPermissions)
	api.GET("/roles/:name/permissions", s.handleGetRolePermissions)
	api.POST("/roles/:name/permissions", s.handleAddRolePermission)
	api.DELETE("/roles/:name/permissions/:permission", s.handleRemoveRolePermission)
	api.POST("/assign-role", s.handleAssignRole)
	api.DELETE("/assign-role", s.handleRemoveRole)

	// Machines
	api.GET("/machines", s.handleListMachines)
	api.POST("/machines", s.handleCreateMachine)
	api.GET("/machines/:id", s.handleGetMachine)
	api.PATCH("/machines/:id", s.handleUpdateMachine)
	api.DELETE("/machines/:id", s.handleDeleteMachine)

	// Reports
	api.GET("/reports", s.handleListReports)
	api.GET("/reports/export", s.handleExportReports)
	api.POST("/reports", s.handleCreateReport)
	api.GET("/reports/:id", s.handleGetReport)
	api.PATCH("/reports/:id", s.handleUpdateReport)
	api.DELETE("/reports/:id", s.handleDeleteReport)

	// License administration
	read := auth.RequirePermission(s.deps.Auth, rbac.PermLicensesRead)
	manage := auth.RequirePermission(s.deps.Auth, rbac.PermLicensesManage)
	licenses := api.Group("/licenses")
	{
		licenses.GET("", read, s.handleListLicenses)
		licenses.GET("/stats", read, s.handleLicenseStats)
		licenses.GET("/:key", read, s.handleGetLicense)
		licenses.GET("/:key/devices", read, s.handleLicenseDevices)
		licenses.GET("/:key/logs", read, s.handleLicenseLogs)
		licenses.POST("", manage, s.handleCreateLicense)
		licenses.DELETE("/:key", manage, s.handleDeleteLicense)
		licenses.POST("/:key/renew", manage, s.handleRenewLicense)
		licenses.POST("/:key/upgrade", manage, s.handleUpgradeLicense)
		licenses.POST("/:key/revoke", manage, s.handleRevokeLicense)
		licenses.POST("/:key/reset-binding", manage, s.handleResetBinding)
		licenses.DELETE("/:key/devices/:device", manage, s.handleDeactivateDevice)
	}

	// System
	api.GET("/system/status", auth.RequirePermission(s.deps.Auth, rbac.PermSystemMonitor), s.handleSystemStatus)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports whether the main database answers.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.deps.Main != nil {
		if err := s.deps.Main.HealthCheck(ctx); err != nil {
			logging.FromGin(c).Warn().Err(err).Msg("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
		"cache":    s.cacheStatus(),
	})
}

// respondError writes err as {"error": code, "message": message}. Details
// of 5xx errors go to the log only.
func respondError(c *gin.Context, err error) {
	status, code, message := apperr.Public(err)
	if status >= http.StatusInternalServerError {
		logging.FromGin(c).Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}

func bindError(err error) error {
	return apperr.Validation("%s", err.Error())
}

// requestContext returns the authenticated caller or writes 401.
func requestContext(c *gin.Context) (*auth.RequestContext, bool) {
	rc := auth.GetRequestContext(c)
	if rc == nil {
		respondError(c, auth.ErrUnauthorized)
		return nil, false
	}
	return rc, true
}

// bind decodes the JSON body into v or writes 400.
func bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, bindError(err))
		return false
	}
	return true
}

func meta(c *gin.Context) license.Meta {
	return license.Meta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}
