// Package server exposes the Sapiens JSON API over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sapienshq/sapiens/internal/backend"
	"github.com/sapienshq/sapiens/internal/orchestrator"
	"github.com/sapienshq/sapiens/internal/pipeline"
	"github.com/sapienshq/sapiens/internal/room"
	"github.com/sapienshq/sapiens/internal/session"
)

// Opts holds configuration for the API server.
type Opts struct {
	DB           *gorm.DB
	Repo         *room.Repo
	Pipeline     *pipeline.Pipeline
	Orchestrator *orchestrator.Orchestrator
	Gate         *session.Gate
	Backend      *backend.Client
	Logger       *zap.Logger // optional
	Port         int         // defaults to 8080
}

// Server wires the handlers onto a gin engine.
type Server struct {
	opts   Opts
	router *gin.Engine
	logger *zap.Logger
}

// New builds a Server and its routes.
func New(opts Opts) (*Server, error) {
	switch {
	case opts.DB == nil:
		return nil, fmt.Errorf("server: db is required")
	case opts.Repo == nil:
		return nil, fmt.Errorf("server: repo is required")
	case opts.Pipeline == nil:
		return nil, fmt.Errorf("server: pipeline is required")
	case opts.Orchestrator == nil:
		return nil, fmt.Errorf("server: orchestrator is required")
	case opts.Gate == nil:
		return nil, fmt.Errorf("server: session gate is required")
	case opts.Backend == nil:
		return nil, fmt.Errorf("server: backend client is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{opts: opts, router: router, logger: logger}
	s.registerRoutes()
	return s, nil
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start runs the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	s.logger.Info("api server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
