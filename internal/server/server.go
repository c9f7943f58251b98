// Package server serves the admin console pages behind the routing guard
package server

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/consolegate/consolegate/internal/config"
	"github.com/consolegate/consolegate/internal/guard"
	"github.com/consolegate/consolegate/internal/session"
)

// consolePages are the protected placeholder pages
var consolePages = []string{"dashboard", "releases", "documents", "events", "statistics"}

// Server represents the HTTP server
type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  zerolog.Logger
	policy  guard.Policy
	cookie  session.CookieOptions
	version string
}

// New creates a new server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	server := &Server{
		config:  cfg,
		logger:  zlog,
		policy:  NewPolicy(cfg.Guard),
		cookie:  session.CookieOptions{Name: cfg.Session.CookieName, Secure: cfg.Session.Secure},
		version: version,
	}

	server.setupRouter()

	return server, nil
}

// NewPolicy builds the guard policy from configuration
func NewPolicy(cfg config.GuardConfig) guard.Policy {
	policy := guard.Policy{
		LoginPath:        cfg.LoginPath,
		HomePath:         cfg.HomePath,
		PublicPaths:      cfg.PublicPaths,
		ExcludedPrefixes: cfg.ExcludedPrefixes,
		TokenCheck:       guard.OpaqueTokenCheck,
	}
	if policy.LoginPath == "" {
		policy.LoginPath = config.DefaultLoginPath
	}
	if policy.HomePath == "" {
		policy.HomePath = config.DefaultHomePath
	}
	if cfg.CheckJWT {
		policy.TokenCheck = guard.JWTTokenCheck(time.Now)
	}
	return policy
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	if len(s.config.Server.AllowedOrigins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins:     s.config.Server.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Every page request passes the guard; excluded prefixes skip it
	s.router.Use(guard.Middleware(s.policy, s.cookie, s.logger))

	s.router.GET("/health", s.healthCheck)

	s.router.GET(s.policy.LoginPath, s.loginPage)
	s.router.GET("/", s.page("home"))
	for _, name := range consolePages {
		s.router.GET("/"+name, s.page(name))
		s.router.GET("/"+name+"/:id", s.page(name))
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Page not found"})
	})
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Policy returns the guard policy the server enforces
func (s *Server) Policy() guard.Policy {
	return s.policy
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "consolegate",
		"version":   s.version,
	})
}

// loginPage renders the login shell. The redirect target is echoed only
// after it has been checked to be a same-origin, non-public path.
func (s *Server) loginPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"page":     "login",
		"redirect": s.policy.SafeRedirectTarget(c.Query(guard.RedirectQueryParam)),
	})
}

func (s *Server) page(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"page": name})
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.Address,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.logger.Error().Err(err).Msg("HTTP server error")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	s.logger.Info().Msg("Server shutdown complete")
	return nil
}

// Start serves until SIGINT or SIGTERM
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}
