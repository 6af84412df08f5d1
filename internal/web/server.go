// Package web exposes the recognition loop over HTTP: JSON control endpoints, an SSE event feed
// and an MJPEG stream of the annotated frames.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andresmejia3/securiface/internal/logger"
	"github.com/andresmejia3/securiface/internal/pipeline"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Server represents the web server
type Server struct {
	driver     *pipeline.Driver
	frames     *pipeline.FrameSlot
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server. frames is the sink the driver publishes into.
func NewServer(driver *pipeline.Driver, frames *pipeline.FrameSlot, addr string) *Server {
	r := chi.NewRouter()

	s := &Server{
		driver: driver,
		frames: frames,
		router: r,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	// WriteTimeout stays zero: /stream and /api/v1/events are long-lived.
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logger.Info("starting web server", logger.LoggerOptions{Key: "addr", Data: s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			logger.LoggerOptions{Key: "method", Data: r.Method},
			logger.LoggerOptions{Key: "path", Data: r.URL.Path},
			logger.LoggerOptions{Key: "status", Data: ww.Status()},
			logger.LoggerOptions{Key: "duration", Data: time.Since(start).String()},
			logger.LoggerOptions{Key: "request_id", Data: chiMiddleware.GetReqID(r.Context())},
		)
	})
}
