package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/progress"
	"github.com/JakeFAU/storyprogress/internal/storage"
)

const defaultArchiveMaxEvents = 4096

// Timeline is the archived record of one story session.
type Timeline struct {
	StoryID      string          `json:"story_id"`
	SegmentCount int             `json:"segment_count"`
	Status       string          `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Truncated    bool            `json:"truncated,omitempty"`
	Events       []TimelineEntry `json:"events"`
}

// TimelineEntry is one event in a Timeline.
type TimelineEntry struct {
	TS       time.Time `json:"ts"`
	Stage    string    `json:"stage"`
	Segment  int       `json:"segment"`
	Progress float64   `json:"progress"`
	Cause    string    `json:"cause,omitempty"`
	DurMS    int64     `json:"dur_ms,omitempty"`
}

// ArchiveSinkConfig controls where and how timelines are written.
//   - Prefix: object path prefix (default "stories").
//   - MaxEvents: per-session cap; later events are dropped and the timeline
//     is marked truncated (default 4096).
type ArchiveSinkConfig struct {
	Prefix    string
	MaxEvents int
}

// ArchiveSink buffers events per session and writes a JSON Timeline to a
// BlobStore when the session finishes. Open sessions are written with status
// "open" on Close.
type ArchiveSink struct {
	blobs  storage.BlobStore
	cfg    ArchiveSinkConfig
	logger *zap.Logger

	mu   sync.Mutex
	open map[[16]byte]*Timeline
}

// NewArchiveSink wraps blobs.
func NewArchiveSink(blobs storage.BlobStore, cfg ArchiveSinkConfig, logger *zap.Logger) (*ArchiveSink, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "stories"
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultArchiveMaxEvents
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSink{blobs: blobs, cfg: cfg, logger: logger, open: make(map[[16]byte]*Timeline)}, nil
}

// TimelinePath returns the object path for a story's timeline.
func TimelinePath(prefix string, id uuid.UUID) string {
	if prefix == "" {
		prefix = "stories"
	}
	return path.Join(prefix, id.String()+".json")
}

// Consume appends events and writes timelines for finished sessions.
func (s *ArchiveSink) Consume(ctx context.Context, batch []progress.Event) error {
	var finished []*Timeline
	s.mu.Lock()
	for _, evt := range batch {
		tl := s.open[evt.SessionID]
		if tl == nil {
			tl = &Timeline{
				StoryID:      evt.SessionUUID().String(),
				SegmentCount: evt.SegmentCount,
				Status:       "open",
				StartedAt:    evt.TS.UTC(),
			}
			s.open[evt.SessionID] = tl
		}
		if len(tl.Events) < s.cfg.MaxEvents {
			tl.Events = append(tl.Events, TimelineEntry{
				TS:       evt.TS.UTC(),
				Stage:    string(evt.Stage),
				Segment:  evt.Segment,
				Progress: evt.Progress,
				Cause:    string(evt.Cause),
				DurMS:    evt.Dur.Milliseconds(),
			})
		} else {
			tl.Truncated = true
		}
		if !evt.Terminal() {
			continue
		}
		ts := evt.TS.UTC()
		tl.FinishedAt = &ts
		tl.Status = "completed"
		if evt.Stage == progress.StageStoryCancel {
			tl.Status = "canceled"
		}
		finished = append(finished, tl)
		delete(s.open, evt.SessionID)
	}
	s.mu.Unlock()

	var errs []error
	for _, tl := range finished {
		if err := s.write(ctx, tl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close writes every still-open timeline.
func (s *ArchiveSink) Close(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]*Timeline, 0, len(s.open))
	for id, tl := range s.open {
		pending = append(pending, tl)
		delete(s.open, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, tl := range pending {
		if err := s.write(ctx, tl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *ArchiveSink) write(ctx context.Context, tl *Timeline) error {
	body, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("marshal timeline %s: %w", tl.StoryID, err)
	}
	id, err := uuid.Parse(tl.StoryID)
	if err != nil {
		return fmt.Errorf("parse story id: %w", err)
	}
	uri, err := s.blobs.PutObject(ctx, TimelinePath(s.cfg.Prefix, id), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("archive timeline %s: %w", tl.StoryID, err)
	}
	s.logger.Debug("story timeline archived",
		zap.String("story_id", tl.StoryID),
		zap.String("status", tl.Status),
		zap.Int("events", len(tl.Events)),
		zap.String("uri", uri),
	)
	return nil
}
