package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"go-extractor/internal/service"
)

type Server struct {
	router  chi.Router
	service *service.ExtractionService
	log     *zap.Logger
	srv     *http.Server
}

func NewServer(svc *service.ExtractionService, log *zap.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		service: svc,
		log:     log,
	}

	s.router.Use(requestLogger(log))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleStartJob)
		r.Get("/{id}", s.handleGetJob)
		r.Post("/{id}/interrupt", s.handleInterrupt)
		r.Get("/{id}/events", s.handleEvents)
		r.Get("/{id}/pages", s.handleGetPages)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// requestLogger logs each request with method, path, and duration.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
