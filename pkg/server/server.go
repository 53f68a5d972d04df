// Package server exposes the platform over HTTP: schema management, DAL
// queries, record persistence and sharing, all scoped to the tenant resolved
// from the request.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kitebase/kitebase/pkg/tenancy"
)

// Server wires the HTTP API over per-tenant environments.
type Server struct {
	mgr    *tenancy.EnvManager
	mode   tenancy.TenancyMode
	logger *slog.Logger
}

// NewServer creates a server over the given environment manager.
func NewServer(mgr *tenancy.EnvManager, mode tenancy.TenancyMode, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{mgr: mgr, mode: mode, logger: logger}
}

// Router builds the chi router with all API routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			tenancy.NamespaceHeader, tenancy.UserHeader, tenancy.GroupsHeader},
		MaxAge: 300,
	}))
	r.Use(s.requestLogger)
	r.Use(tenancy.NewMiddleware(s.mode))

	r.Get("/healthz", s.healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/namespaces", s.listNamespaces)

		r.Route("/types", func(r chi.Router) {
			r.Get("/", s.listTypes)
			r.Post("/", s.createType)
			r.Route("/{type}", func(r chi.Router) {
				r.Get("/", s.getType)
				r.Delete("/", s.deleteType)
				r.Post("/fields", s.createField)
				r.Patch("/fields/{field}", s.updateField)
				r.Delete("/fields/{field}", s.deleteField)
			})
		})

		r.Post("/query", s.runQuery)

		r.Route("/records", func(r chi.Router) {
			r.Post("/", s.saveRecord)
			r.Get("/{kid}", s.getRecord)
			r.Patch("/{kid}", s.updateRecord)
			r.Delete("/{kid}", s.deleteRecord)
		})

		r.Route("/shares", func(r chi.Router) {
			r.Post("/", s.shareRecord)
			r.Delete("/", s.unshareRecord)
		})
	})

	return r
}

// requestLogger logs one line per request with method, path, status and
// duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listNamespaces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"namespaces": s.mgr.Namespaces(),
		"mode":       string(s.mode),
	})
}

// env resolves the tenant environment for a request.
func (s *Server) env(r *http.Request) (*tenancy.Env, error) {
	ns := tenancy.NamespaceFromContext(r.Context())
	if ns == "" {
		ns = "default"
	}
	return s.mgr.Env(ns)
}
