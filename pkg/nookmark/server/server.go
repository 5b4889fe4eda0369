// Package server assembles the HTTP API from the feature packages.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/nookmark/pkg/nookmark/account"
	"github.com/mikepea/nookmark/pkg/nookmark/apikeys"
	"github.com/mikepea/nookmark/pkg/nookmark/auth"
	"github.com/mikepea/nookmark/pkg/nookmark/bookmarks"
	"github.com/mikepea/nookmark/pkg/nookmark/config"
	"github.com/mikepea/nookmark/pkg/nookmark/importexport"
	"github.com/mikepea/nookmark/pkg/nookmark/logging"
	"github.com/mikepea/nookmark/pkg/nookmark/oidc"
	"github.com/mikepea/nookmark/pkg/nookmark/preview"
	"github.com/mikepea/nookmark/pkg/nookmark/ratelimit"
	"github.com/mikepea/nookmark/pkg/nookmark/tags"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "github.com/mikepea/nookmark/api/swagger"
)

// Server holds the router and the background resources it owns
type Server struct {
	Router *gin.Engine

	cfg      *config.Config
	db       *gorm.DB
	logger   *zap.Logger
	limiters []*ratelimit.KeyedRateLimiter
}

// New builds the router for cfg. Call Close when done to stop the rate
// limiter cleanup goroutines.
func New(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, db: db, logger: logger}

	r := gin.New()
	r.Use(logging.Recovery(logger), logging.Middleware(logger))

	// Health check endpoint
	r.GET("/health", s.health)

	// Swagger documentation
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	sessions := auth.NewSessions(
		auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL),
		cfg.Auth.CookieName,
		cfg.Auth.CookieSecure,
	)
	loginLimiter := s.limiter(cfg.Auth.LoginRPS, cfg.Auth.LoginBurst)
	previewLimiter := s.limiter(cfg.Preview.RPS, cfg.Preview.Burst)

	svc := bookmarks.NewService(db, bookmarks.Options{
		DefaultPageSize: cfg.Pagination.DefaultPageSize,
		MaxPageSize:     cfg.Pagination.MaxPageSize,
		MaxVisiblePages: cfg.Pagination.MaxVisiblePages,
	})

	api := r.Group("/api")
	{
		api.GET("/health", s.health)

		// Auth routes (public, login and register throttled per client)
		authGroup := api.Group("/auth")
		auth.NewHandler(db, sessions).RegisterRoutes(authGroup, ratelimit.Middleware(loginLimiter))
		oidc.NewHandler(db, sessions, cfg.OAuth, cfg.Server.BaseURL, logger).RegisterRoutes(authGroup)

		// API keys and the account are managed with a session only
		sessionOnly := api.Group("", auth.AuthMiddleware(sessions))
		apikeys.NewHandler(db).RegisterRoutes(sessionOnly)
		account.NewHandler(db, svc, logger).RegisterRoutes(sessionOnly, ratelimit.Middleware(loginLimiter))

		// Everything else accepts a session or an API key
		protected := api.Group("", apikeys.CombinedAuthMiddleware(db, sessions))
		preview.NewHandler(preview.NewFetcher(nil, cfg.Preview.Timeout), logger).
			RegisterRoutes(protected, ratelimit.Middleware(previewLimiter))
		bookmarks.NewHandler(svc, logger).RegisterRoutes(protected.Group("/bookmarks"))
		tags.NewHandler(svc, cfg.Tags.SummaryLimit, logger).RegisterRoutes(protected)
		importexport.NewHandler(svc, logger).RegisterRoutes(protected)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	s.Router = r
	return s
}

func (s *Server) limiter(rps float64, burst int) *ratelimit.KeyedRateLimiter {
	l := ratelimit.New(rps, burst)
	s.limiters = append(s.limiters, l)
	return l
}

// HTTPServer wraps the router in an http.Server configured from cfg
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           s.Router,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}
}

// Close releases background resources
func (s *Server) Close() {
	for _, l := range s.limiters {
		l.Stop()
	}
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "nookmark"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "nookmark"})
}
