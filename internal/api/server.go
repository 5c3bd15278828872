// Package api exposes the engine over HTTP: assessment ingestion, symptom and
// flag reads, flag resolution for reviewers, analytics, and a websocket feed
// of newly created flags.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/symptom-biomarker-engine/internal/engine"
)

// Config holds the HTTP server settings.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// RatePerSecond caps requests per client IP; zero disables limiting.
	RatePerSecond float64
	RateBurst     int
	Debug         bool
}

// Server is the HTTP front end over the engine service.
type Server struct {
	config  Config
	service *engine.Service
	feed    *FlagFeed
	log     *logrus.Logger
	router  *gin.Engine
	server  *http.Server
}

// NewServer creates the HTTP server. feed may be nil when the websocket feed
// is disabled.
func NewServer(config Config, service *engine.Service, feed *FlagFeed, logger *logrus.Logger) *Server {
	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())
	router.Use(correlationID())
	if config.RatePerSecond > 0 {
		router.Use(rateLimiter(config.RatePerSecond, config.RateBurst))
	}

	s := &Server{
		config:  config,
		service: service,
		feed:    feed,
		log:     logger,
		router:  router,
	}
	s.setupRoutes()
	return s
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		users := v1.Group("/users/:user_id")
		{
			users.POST("/assessments", s.handleIngest)
			users.GET("/symptoms", s.handleActiveSymptoms)
			users.GET("/history", s.handleHistory)
			users.GET("/flags", s.handleActiveFlags)
			users.GET("/analytics", s.handleAnalytics)
		}
		v1.POST("/flags/:flag_id/resolve", s.handleResolveFlag)
	}

	if s.feed != nil {
		s.router.GET("/ws/flags", s.feed.HandleConnection)
	}
}
