package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("story record not found")

// StoryStatus mirrors the story_runs.status column.
type StoryStatus string

// Story run statuses persisted in story_runs.status.
const (
	StoryRunning   StoryStatus = "running"
	StoryCompleted StoryStatus = "completed"
	StoryCanceled  StoryStatus = "canceled"
)

// Valid reports whether s is a known status.
func (s StoryStatus) Valid() bool {
	switch s {
	case StoryRunning, StoryCompleted, StoryCanceled:
		return true
	}
	return false
}

// StoryRun models one presentation of a story.
type StoryRun struct {
	// ID is the session identifier carried by story events.
	ID uuid.UUID
	// SegmentCount is fixed for the life of the run.
	SegmentCount int
	// StartedAt is the most recent start or reset.
	StartedAt time.Time
	// FinishedAt is nil while running.
	FinishedAt *time.Time
	Status     StoryStatus
	// LastSegment is the segment shown when the run finished.
	LastSegment int
	// Resets counts how many times the run restarted from segment 0.
	Resets int
}

// SegmentStats aggregates viewing behaviour for one segment of a run.
type SegmentStats struct {
	StoryID    uuid.UUID
	Segment    int
	LastUpdate time.Time
	// Views counts how often the segment became active.
	Views int64
	// Pauses counts long-press or background pauses on the segment.
	Pauses int64
	// Completions counts exits because the timer ran out.
	Completions int64
	// Skips counts exits by tap, swipe or seek.
	Skips int64
	// Dwell is the total on-screen time before leaving the segment.
	Dwell time.Duration
}

// SegmentDelta is an increment applied to SegmentStats.
type SegmentDelta struct {
	Views       int64
	Pauses      int64
	Completions int64
	Skips       int64
	Dwell       time.Duration
}

// Empty reports whether applying d would change nothing.
func (d SegmentDelta) Empty() bool {
	return d == SegmentDelta{}
}

// ViewRepository persists story runs and per-segment view statistics.
type ViewRepository interface {
	// UpsertStoryStart inserts the run or marks an existing one running again.
	UpsertStoryStart(ctx context.Context, id uuid.UUID, segmentCount int, startedAt time.Time) error
	// FinishStory marks the run completed or canceled.
	FinishStory(ctx context.Context, id uuid.UUID, finishedAt time.Time, status StoryStatus, lastSegment int) error
	// UpsertSegmentStats applies delta to (id, segment).
	UpsertSegmentStats(ctx context.Context, id uuid.UUID, segment int, delta SegmentDelta, at time.Time) error

	// GetStory loads a single run or returns ErrNotFound.
	GetStory(ctx context.Context, id uuid.UUID) (StoryRun, error)
	// ListStories returns runs filtered by optional status plus limit/offset.
	ListStories(ctx context.Context, status *StoryStatus, limit, offset int) ([]StoryRun, error)
	// ListSegments returns per-segment stats for one run ordered by segment.
	ListSegments(ctx context.Context, id uuid.UUID, limit, offset int) ([]SegmentStats, error)
}
