// Package api exposes the HTTP interface for the ETL service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/feedforge/newsetl/internal/service"
	"github.com/feedforge/newsetl/internal/store"
)

// readTimeout bounds the read-side routes. Variable so tests can shrink it.
var readTimeout = 60 * time.Second

// Server wires the HTTP handlers to the service layer.
type Server struct {
	router chi.Router
	svc    *service.Service
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc *service.Service, logger *zap.Logger) *Server {
	s := &Server{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// A trigger runs the pipeline synchronously and takes as long
		// as its sources do, so it stays outside the read timeout.
		r.Post("/etl/trigger", s.triggerETL)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(readTimeout))
			r.Get("/etl/status", s.etlStatus)
			r.Route("/articles", func(r chi.Router) {
				r.Get("/", s.listArticles)
				r.Get("/{article_id}", s.getArticle)
			})
			r.Route("/files", func(r chi.Router) {
				r.Get("/", s.listFiles)
				r.Get("/{file_id}", s.getFile)
			})
			r.Post("/search", s.search)
			r.Get("/trends", s.trends)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) triggerETL(w http.ResponseWriter, r *http.Request) {
	counts := s.svc.TriggerETL(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (s *Server) etlStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.ETLStatus())
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	q := store.ArticleQuery{
		Page:       queryInt(r, "page", 1),
		PageSize:   queryInt(r, "page_size", 20),
		SourceType: r.URL.Query().Get("source_type"),
		Language:   r.URL.Query().Get("language"),
	}
	list, err := s.svc.ListArticles(r.Context(), q)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "listing articles failed")
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.svc.GetArticle(r.Context(), chi.URLParam(r, "article_id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "fetching article failed")
		return
	}
	if article == nil {
		s.writeError(w, http.StatusNotFound, "article not found")
		return
	}
	s.writeJSON(w, http.StatusOK, article)
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListFiles(r.Context(), queryInt(r, "page", 1), queryInt(r, "page_size", 20))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "listing files failed")
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.svc.GetFile(r.Context(), chi.URLParam(r, "file_id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "fetching file failed")
		return
	}
	if file == nil {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	s.writeJSON(w, http.StatusOK, file)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req service.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	result, err := s.svc.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) trends(w http.ResponseWriter, r *http.Request) {
	points, err := s.svc.Trends(r.Context(), queryInt(r, "days", 7))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "trend aggregation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"days": queryInt(r, "days", 7),
		"data": points,
	})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
