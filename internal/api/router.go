package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/filehaven/filehaven/internal/api/handlers"
	apiMiddleware "github.com/filehaven/filehaven/internal/api/middleware"
	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/audit"
	"github.com/filehaven/filehaven/pkg/config"
	"github.com/filehaven/filehaven/pkg/identity"
	"github.com/filehaven/filehaven/pkg/s3config"
	"github.com/filehaven/filehaven/pkg/s3conn"
	"github.com/filehaven/filehaven/pkg/session"
)

// Deps bundles everything the router needs.
type Deps struct {
	Config    *config.Config
	Users     *identity.Registry
	Authority *session.Authority
	Profiles  *s3config.Store
	Conns     *s3conn.Registry
	Audit     *audit.Log
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET /health, /health/ready - probes, unauthenticated
//   - POST /api/auth/login - authentication, unauthenticated
//   - /api/auth/* - session introspection and logout
//   - /api/files/* - local sandbox file operations
//   - /api/trash/* - trash listing and restore
//   - /api/s3/configs/* - S3 profile CRUD (admin only)
//   - /api/s3/* - S3 connections and file operations
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if deps.Config.Server.MetricsEnabled {
		r.Use(apiMiddleware.Metrics)
	}

	healthHandler := handlers.NewHealthHandler(
		deps.Config.Files.Root, deps.Config.Files.SettingsPath)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Live)
		r.Get("/ready", healthHandler.Ready)
	})

	if deps.Config.Server.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	filesCfg := handlers.FilesConfig{
		SearchMaxBytes:    deps.Config.Files.SearchMaxBytes,
		ArchiveLargeBytes: deps.Config.Files.ArchiveLargeBytes(),
	}
	filesHandler := handlers.NewFilesHandler(filesCfg, deps.Audit)
	trashHandler := handlers.NewTrashHandler(deps.Audit)
	authHandler := handlers.NewAuthHandler(deps.Users, deps.Authority, deps.Conns, deps.Audit)
	s3ConfigsHandler := handlers.NewS3ConfigsHandler(deps.Profiles, deps.Conns, nil, deps.Audit)
	s3Handler := handlers.NewS3Handler(deps.Profiles, deps.Conns, filesHandler, deps.Audit)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)

		// Everything else requires a valid session cookie.
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.SessionAuth(deps.Authority))

			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/logout", authHandler.Logout)

			r.Route("/files", func(r chi.Router) {
				r.Get("/list", filesHandler.List)
				r.Get("/download", filesHandler.Download)
				r.Get("/preview", filesHandler.Preview)
				r.Get("/image", filesHandler.Image)
				r.Get("/edit", filesHandler.EditGet)
				r.Get("/search", filesHandler.Search)
				r.Get("/archive", filesHandler.Archive)

				r.Group(func(r chi.Router) {
					r.Use(apiMiddleware.RequireWrite())
					r.Put("/edit", filesHandler.EditPut)
					r.Post("/upload", filesHandler.Upload)
					r.Post("/mkdir", filesHandler.Mkdir)
					r.Post("/move", filesHandler.Move)
					r.Post("/copy", filesHandler.Copy)
					r.Post("/delete", filesHandler.Delete)
				})
			})

			r.Route("/trash", func(r chi.Router) {
				r.Get("/", trashHandler.List)
				r.Group(func(r chi.Router) {
					r.Use(apiMiddleware.RequireWrite())
					// Same soft delete as /files/delete, for callers that
					// think in trash terms.
					r.Post("/", filesHandler.Delete)
					r.Post("/restore", trashHandler.Restore)
				})
			})

			r.Route("/s3", func(r chi.Router) {
				// Profile CRUD is admin territory.
				r.Route("/configs", func(r chi.Router) {
					r.Use(apiMiddleware.RequireAdmin())
					r.Get("/", s3ConfigsHandler.List)
					r.Post("/", s3ConfigsHandler.Create)
					r.Get("/{id}", s3ConfigsHandler.Get)
					r.Put("/{id}", s3ConfigsHandler.Update)
					r.Delete("/{id}", s3ConfigsHandler.Delete)
					r.Post("/{id}/test", s3ConfigsHandler.Test)
				})

				r.Post("/connect", s3Handler.Connect)
				r.Post("/disconnect", s3Handler.Disconnect)
				r.Get("/connections", s3Handler.Connections)

				r.Route("/files", func(r chi.Router) {
					r.Get("/list", s3Handler.List)
					r.Get("/download", s3Handler.Download)
					r.Get("/preview", s3Handler.Preview)
					r.Get("/image", s3Handler.Image)
					r.Get("/edit", s3Handler.EditGet)

					r.Group(func(r chi.Router) {
						r.Use(apiMiddleware.RequireWrite())
						r.Put("/edit", s3Handler.EditPut)
						r.Post("/upload", s3Handler.Upload)
						r.Post("/mkdir", s3Handler.Mkdir)
						r.Post("/move", s3Handler.Move)
						r.Post("/copy", s3Handler.Copy)
						r.Post("/delete", s3Handler.Delete)
					})
				})
			})
		})
	})

	return r
}

// requestLogger logs request start at debug and completion at info, with
// health probes demoted to debug to keep orchestrator noise out of the logs.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, time.Since(start).Milliseconds(),
		}
		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}

func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}
