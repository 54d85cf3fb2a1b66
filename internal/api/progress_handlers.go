package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/hash/sha256"
	"github.com/JakeFAU/storyprogress/internal/progress/sinks"
	"github.com/JakeFAU/storyprogress/internal/storage"
	"github.com/JakeFAU/storyprogress/internal/store"
)

const (
	defaultStoryLimit    = 50
	maxStoryLimit        = 500
	defaultSegmentsLimit = 100
	maxSegmentsLimit     = 1000
	progressTimeout      = 3 * time.Second
)

// ProgressHandler exposes read-only story statistics and archived timelines.
type ProgressHandler struct {
	repo    store.ViewRepository
	blobs   storage.BlobStore
	prefix  string
	hasher  *sha256.Hasher
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository, timeline store and logger.
func NewProgressHandler(repo store.ViewRepository, blobs storage.BlobStore, prefix string, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		blobs:   blobs,
		prefix:  prefix,
		hasher:  sha256.New(),
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListStories handles GET /api/stories?status=&limit=&offset=. It returns a
// JSON object {"stories": [...]} on success, 400 for invalid filters, 503 when
// the repo is unavailable, or 500 if the repository call fails.
func (h *ProgressHandler) ListStories(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "view repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultStoryLimit, maxStoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.StoryStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal := store.StoryStatus(strings.ToLower(statusParam))
		if !statusVal.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		status = &statusVal
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListStories(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list stories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list stories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stories": toStoryDTOs(runs),
	})
}

// GetStory handles GET /api/stories/{story_id}. It returns {"story": {...}},
// 400 for malformed IDs, 404 on store.ErrNotFound, 503 without a repo, or
// 500 otherwise.
func (h *ProgressHandler) GetStory(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "view repository unavailable")
		return
	}
	id, err := parseStoryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetStory(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "story not found")
			return
		}
		h.logger.Error("get story failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load story")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"story": toStoryDTO(run)})
}

// ListSegments handles GET /api/stories/{story_id}/segments?limit=&offset=.
func (h *ProgressHandler) ListSegments(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "view repository unavailable")
		return
	}
	id, err := parseStoryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSegmentsLimit, maxSegmentsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.repo.ListSegments(ctx, id, limit, offset)
	if err != nil {
		h.logger.Error("list segments failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list segments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"segments": toSegmentDTOs(stats),
	})
}

// GetTimeline handles GET /api/stories/{story_id}/timeline and serves the
// archived JSON timeline as stored. Responses carry an ETag and honor
// If-None-Match with 304.
func (h *ProgressHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "timeline archive unavailable")
		return
	}
	id, err := parseStoryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	data, err := h.blobs.GetObject(ctx, sinks.TimelinePath(h.prefix, id))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "timeline not found")
			return
		}
		h.logger.Error("get timeline failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load timeline")
		return
	}
	etag := h.hasher.ETag(data)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("write timeline failed", zap.Error(err))
	}
}

func parseStoryID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "story_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("story_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid story_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toStoryDTOs(in []store.StoryRun) []storyDTO {
	out := make([]storyDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toStoryDTO(run))
	}
	return out
}

func toStoryDTO(run store.StoryRun) storyDTO {
	return storyDTO{
		ID:           run.ID.String(),
		SegmentCount: run.SegmentCount,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		Status:       string(run.Status),
		LastSegment:  run.LastSegment,
		Resets:       run.Resets,
	}
}

func toSegmentDTOs(in []store.SegmentStats) []segmentDTO {
	out := make([]segmentDTO, 0, len(in))
	for _, s := range in {
		out = append(out, segmentDTO{
			Segment:     s.Segment,
			LastUpdate:  s.LastUpdate,
			Views:       s.Views,
			Pauses:      s.Pauses,
			Completions: s.Completions,
			Skips:       s.Skips,
			DwellMS:     s.Dwell.Milliseconds(),
		})
	}
	return out
}

type storyDTO struct {
	ID           string     `json:"id"`
	SegmentCount int        `json:"segment_count"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       string     `json:"status"`
	LastSegment  int        `json:"last_segment"`
	Resets       int        `json:"resets"`
}

type segmentDTO struct {
	Segment     int       `json:"segment"`
	LastUpdate  time.Time `json:"last_update"`
	Views       int64     `json:"views"`
	Pauses      int64     `json:"pauses"`
	Completions int64     `json:"completions"`
	Skips       int64     `json:"skips"`
	DwellMS     int64     `json:"dwell_ms"`
}
