package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/storyprogress/internal/store"
)

// ViewStore is an in-memory store.ViewRepository for development and tests.
type ViewStore struct {
	mu       sync.RWMutex
	runs     map[uuid.UUID]store.StoryRun
	segments map[uuid.UUID]map[int]store.SegmentStats
}

var _ store.ViewRepository = (*ViewStore)(nil)

// NewViewStore constructs an empty ViewStore.
func NewViewStore() *ViewStore {
	return &ViewStore{
		runs:     make(map[uuid.UUID]store.StoryRun),
		segments: make(map[uuid.UUID]map[int]store.SegmentStats),
	}
}

// UpsertStoryStart inserts the run or restarts it, counting a reset.
func (s *ViewStore) UpsertStoryStart(_ context.Context, id uuid.UUID, segmentCount int, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if ok {
		run.Resets++
	} else {
		run = store.StoryRun{ID: id, SegmentCount: segmentCount}
	}
	run.StartedAt = startedAt
	run.FinishedAt = nil
	run.Status = store.StoryRunning
	run.LastSegment = 0
	s.runs[id] = run
	return nil
}

// FinishStory marks the run finished.
func (s *ViewStore) FinishStory(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.StoryStatus,
	lastSegment int,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	ts := finishedAt
	run.FinishedAt = &ts
	run.Status = status
	run.LastSegment = lastSegment
	s.runs[id] = run
	return nil
}

// UpsertSegmentStats adds delta to the (id, segment) aggregate.
func (s *ViewStore) UpsertSegmentStats(
	_ context.Context,
	id uuid.UUID,
	segment int,
	delta store.SegmentDelta,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySegment := s.segments[id]
	if bySegment == nil {
		bySegment = make(map[int]store.SegmentStats)
		s.segments[id] = bySegment
	}
	stat := bySegment[segment]
	stat.StoryID = id
	stat.Segment = segment
	stat.Views += delta.Views
	stat.Pauses += delta.Pauses
	stat.Completions += delta.Completions
	stat.Skips += delta.Skips
	stat.Dwell += delta.Dwell
	if at.After(stat.LastUpdate) {
		stat.LastUpdate = at
	}
	bySegment[segment] = stat
	return nil
}

// GetStory returns the run or store.ErrNotFound.
func (s *ViewStore) GetStory(_ context.Context, id uuid.UUID) (store.StoryRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.StoryRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListStories returns runs newest first.
func (s *ViewStore) ListStories(
	_ context.Context,
	status *store.StoryStatus,
	limit,
	offset int,
) ([]store.StoryRun, error) {
	s.mu.RLock()
	runs := make([]store.StoryRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID.String() < runs[j].ID.String()
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return page(runs, limit, offset), nil
}

// ListSegments returns stats ordered by segment index.
func (s *ViewStore) ListSegments(_ context.Context, id uuid.UUID, limit, offset int) ([]store.SegmentStats, error) {
	s.mu.RLock()
	stats := make([]store.SegmentStats, 0, len(s.segments[id]))
	for _, stat := range s.segments[id] {
		stats = append(stats, stat)
	}
	s.mu.RUnlock()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Segment < stats[j].Segment })
	return page(stats, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
