package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/carousel"
	"github.com/JakeFAU/storyprogress/internal/loop"
)

type createStoryRequest struct {
	Segments int `json:"segments"`
}

type seekRequest struct {
	Index *int `json:"index"`
}

type lifecycleRequest struct {
	Event string `json:"event"`
}

func (s *Server) createStory(w http.ResponseWriter, r *http.Request) {
	var req createStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	view, err := s.sessions.Create(r.Context(), req.Segments)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) listStories(w http.ResponseWriter, r *http.Request) {
	views, err := s.sessions.List(r.Context())
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stories": views})
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, func(ctx context.Context, id uuid.UUID) (carousel.View, error) {
		return s.sessions.Get(ctx, id)
	})
}

func (s *Server) dismissStory(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, func(ctx context.Context, id uuid.UUID) (carousel.View, error) {
		return s.sessions.Dismiss(ctx, id)
	})
}

func (s *Server) commandStory(w http.ResponseWriter, r *http.Request) {
	cmd, ok := carousel.ParseCommand(chi.URLParam(r, "command"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown command")
		return
	}
	s.apply(w, r, func(ctx context.Context, id uuid.UUID) (carousel.View, error) {
		return s.sessions.Command(ctx, id, cmd)
	})
}

// seekStory answers 200 with the unchanged state for out-of-range indexes.
func (s *Server) seekStory(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		writeError(w, http.StatusBadRequest, "index is required")
		return
	}
	s.apply(w, r, func(ctx context.Context, id uuid.UUID) (carousel.View, error) {
		return s.sessions.Seek(ctx, id, *req.Index)
	})
}

func (s *Server) gestureStory(w http.ResponseWriter, r *http.Request) {
	var req carousel.Gesture
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		writeError(w, http.StatusBadRequest, "gesture type is required")
		return
	}
	s.apply(w, r, func(ctx context.Context, id uuid.UUID) (carousel.View, error) {
		return s.sessions.Gesture(ctx, id, req)
	})
}

func (s *Server) lifecycleStory(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" {
		writeError(w, http.StatusBadRequest, "lifecycle event is required")
		return
	}
	s.apply(w, r, func(ctx context.Context, id uuid.UUID) (carousel.View, error) {
		return s.sessions.Lifecycle(ctx, id, carousel.LifecycleEvent(req.Event))
	})
}

func (s *Server) apply(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context, uuid.UUID) (carousel.View, error),
) {
	id, err := parseStoryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := fn(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, carousel.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "story not found")
	case errors.Is(err, carousel.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, "unknown command")
	case errors.Is(err, carousel.ErrTooManySessions), errors.Is(err, loop.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "request canceled")
	default:
		s.logger.Error("story session call failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "story session call failed")
	}
}
