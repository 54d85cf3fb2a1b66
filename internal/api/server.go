package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/carousel"
	"github.com/JakeFAU/storyprogress/internal/config"
	"github.com/JakeFAU/storyprogress/internal/metrics"
	"github.com/JakeFAU/storyprogress/internal/policy/ratelimit"
	"github.com/JakeFAU/storyprogress/internal/storage"
	"github.com/JakeFAU/storyprogress/internal/store"
	"github.com/JakeFAU/storyprogress/internal/telemetry"
)

// Sessions is the carousel surface the HTTP layer drives.
type Sessions interface {
	Create(ctx context.Context, segments int) (carousel.View, error)
	Get(ctx context.Context, id uuid.UUID) (carousel.View, error)
	List(ctx context.Context) ([]carousel.View, error)
	Len(ctx context.Context) (int, error)
	Command(ctx context.Context, id uuid.UUID, cmd carousel.Command) (carousel.View, error)
	Seek(ctx context.Context, id uuid.UUID, index int) (carousel.View, error)
	Gesture(ctx context.Context, id uuid.UUID, g carousel.Gesture) (carousel.View, error)
	Lifecycle(ctx context.Context, id uuid.UUID, evt carousel.LifecycleEvent) (carousel.View, error)
	Dismiss(ctx context.Context, id uuid.UUID) (carousel.View, error)
}

// Server wires HTTP handlers to the session manager and stores.
type Server struct {
	router   chi.Router
	sessions Sessions
	limiter  *ratelimit.Limiter
	cfg      config.Config
	logger   *zap.Logger
}

const (
	requestTimeout = 30 * time.Second
	readyTimeout   = time.Second
)

// NewServer constructs a Server with middleware and routes. repo and blobs
// may be nil, in which case the read API answers 503.
func NewServer(
	sessions Sessions,
	limiter *ratelimit.Limiter,
	repo store.ViewRepository,
	blobs storage.BlobStore,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions: sessions,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/v1/stories", func(r chi.Router) {
			r.Post("/", s.createStory)
			r.Get("/", s.listStories)
			r.Route("/{story_id}", func(r chi.Router) {
				r.Get("/", s.getStory)
				r.Delete("/", s.dismissStory)
				r.Post("/seek", s.seekStory)
				r.With(gestureRateLimit(limiter)).Post("/gestures", s.gestureStory)
				r.Post("/lifecycle", s.lifecycleStory)
				r.Post("/{command}", s.commandStory)
			})
		})

		progress := NewProgressHandler(repo, blobs, cfg.Storage.Prefix, logger.Named("progress"))
		r.Route("/api/stories", func(r chi.Router) {
			r.Get("/", progress.ListStories)
			r.Route("/{story_id}", func(r chi.Router) {
				r.Get("/", progress.GetStory)
				r.Get("/segments", progress.ListSegments)
				r.Get("/timeline", progress.GetTimeline)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready while the session loop still accepts work.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	n, err := s.sessions.Len(ctx)
	if err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "session loop unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "sessions": n})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
