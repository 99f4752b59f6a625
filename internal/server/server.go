// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"

	"LinkMonitorAPI/internal/config"
	"LinkMonitorAPI/internal/handler"
	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/middleware"
	"LinkMonitorAPI/internal/websocket"

	"github.com/gorilla/mux"
)

type Server struct {
	httpServer *http.Server
	router     *mux.Router
	cfg        *config.Config
	log        *logger.Logger
}

func New(cfg *config.Config, log *logger.Logger) *Server {
	router := mux.NewRouter()

	server := &Server{
		router: router,
		cfg:    cfg,
		log:    log,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:        router,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
	}

	return server
}

// RegisterHandlers mounts the REST API under /api/v1, the live feed at /ws,
// health checks and the Prometheus endpoint at the root.
func (s *Server) RegisterHandlers(
	readingHandler *handler.ReadingHandler,
	healthHandler *handler.HealthHandler,
	hub *websocket.Hub,
	metricsHandler http.Handler,
) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.Use(middleware.RequestLogger(s.log))
	api.Use(middleware.CORS(middleware.CORSOptions{
		AllowedOrigins: s.cfg.Security.CORSAllowedOrigins,
		AllowedMethods: s.cfg.Security.CORSAllowedMethods,
		AllowedHeaders: s.cfg.Security.CORSAllowedHeaders,
		MaxAge:         s.cfg.Security.CORSMaxAge,
	}))
	api.Use(middleware.Recovery(s.log))

	if s.cfg.Security.EnableRateLimit {
		api.Use(middleware.RateLimit(s.cfg.Security.RateLimitPerMinute))
	}

	readingHandler.RegisterRoutes(api)
	healthHandler.RegisterRoutes(s.router)

	s.router.Handle("/ws", middleware.RequestLogger(s.log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(hub, w, r, s.log)
	}))).Methods("GET")

	if metricsHandler != nil {
		s.router.Handle("/metrics", metricsHandler).Methods("GET")
	}

	s.log.Info("All handlers registered")
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.log.Info("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}
