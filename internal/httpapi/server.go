// Package httpapi serves a local REST API over the vault and the saved
// locations, plus a server-sent event stream of item listings.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/forest6511/nimbusvault/pkg/audit"
	"github.com/forest6511/nimbusvault/pkg/vault"
	"github.com/forest6511/nimbusvault/pkg/weather"
)

// MaxBodyBytes caps request bodies; item payloads are limited separately
// by the vault.
const MaxBodyBytes = 2 << 20

// Server wires the vault and location store to HTTP handlers.
type Server struct {
	vault     *vault.Vault
	locations weather.LocationStore
	logger    *slog.Logger
	timeout   time.Duration
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRequestTimeout bounds non-streaming requests. The default is 30s.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New returns a Server. locations may be nil, in which case the location
// routes are not mounted.
func New(v *vault.Vault, locations weather.LocationStore, opts ...Option) *Server {
	s := &Server{
		vault:     v,
		locations: locations,
		logger:    slog.Default(),
		timeout:   30 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(tagSource)

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/lock", s.lockState)
		r.With(s.limits).Post("/unlock", s.unlock)
		r.Post("/lock", s.lock)

		// The watch stream outlives the request timeout.
		r.Get("/items/watch", s.watchItems)

		r.Group(func(r chi.Router) {
			r.Use(s.limits)
			r.Use(middleware.Timeout(s.timeout))

			r.Get("/counts", s.counts)

			r.Route("/items", func(r chi.Router) {
				r.Get("/", s.listItems)
				r.Post("/", s.createItem)
				r.Get("/search", s.searchItems)
				r.Get("/recent", s.recentItems)
				r.Get("/{id}", s.getItem)
				r.Patch("/{id}", s.updateItem)
				r.Delete("/{id}", s.deleteItem)
				r.Post("/{id}/star", s.toggleStar)
				r.Post("/{id}/move", s.moveItem)
				r.Post("/{id}/trash", s.trashItem)
			})

			r.Route("/folders", func(r chi.Router) {
				r.Get("/", s.listFolders)
				r.Post("/", s.createFolder)
				r.Get("/{id}", s.getFolder)
				r.Patch("/{id}", s.updateFolder)
				r.Delete("/{id}", s.deleteFolder)
				r.Post("/{id}/move", s.moveFolder)
				r.Post("/{id}/trash", s.trashFolder)
			})

			r.Route("/trash", func(r chi.Router) {
				r.Get("/", s.listTrash)
				r.Delete("/", s.emptyTrash)
				r.Post("/{id}/restore", s.restoreTrash)
				r.Delete("/{id}", s.purgeTrash)
			})

			r.Route("/settings", func(r chi.Router) {
				r.Get("/", s.listSettings)
				r.Get("/{key}", s.getSetting)
				r.Put("/{key}", s.putSetting)
				r.Delete("/{key}", s.deleteSetting)
			})

			if s.locations != nil {
				r.Route("/locations", func(r chi.Router) {
					r.Get("/", s.listLocations)
					r.Post("/", s.addLocation)
					r.Get("/default", s.defaultLocation)
					r.Put("/order", s.reorderLocations)
					r.Get("/{id}", s.getLocation)
					r.Delete("/{id}", s.removeLocation)
					r.Post("/{id}/default", s.setDefaultLocation)
				})
			}
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down within
// five seconds and locks the vault.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.vault.Lock(audit.WithSource(shutdownCtx, audit.SourceAPI))
	s.logger.Info("http api stopped")
	return err
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.LogAttrs(r.Context(), slog.LevelDebug, "http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) limits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// tagSource marks every vault operation from this server in the audit log.
func tagSource(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(audit.WithSource(r.Context(), audit.SourceAPI)))
	})
}
