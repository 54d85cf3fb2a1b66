package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/progress"
	"github.com/JakeFAU/storyprogress/internal/store"
)

// StoreSink persists story runs and per-segment view statistics through a
// store.ViewRepository. Segment deltas are collapsed per batch to reduce
// write amplification.
type StoreSink struct {
	repo    store.ViewRepository
	logger  *zap.Logger
	tracker *sessionTracker
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.ViewRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger, tracker: newSessionTracker()}
}

type segmentKey struct {
	story   uuid.UUID
	segment int
}

type segmentAgg struct {
	delta store.SegmentDelta
	at    time.Time
}

// Consume applies the batch in order. Run transitions are written as they
// occur; segment deltas are written once at the end of the batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[segmentKey]*segmentAgg)
	var order []segmentKey
	add := func(id uuid.UUID, segment int, at time.Time, apply func(*store.SegmentDelta)) {
		key := segmentKey{story: id, segment: segment}
		agg := deltas[key]
		if agg == nil {
			agg = &segmentAgg{}
			deltas[key] = agg
			order = append(order, key)
		}
		apply(&agg.delta)
		if at.After(agg.at) {
			agg.at = at
		}
	}

	for _, evt := range batch {
		id := evt.SessionUUID()
		switch evt.Stage {
		case progress.StageStoryStart, progress.StageStoryReset:
			if err := s.repo.UpsertStoryStart(ctx, id, evt.SegmentCount, evt.TS); err != nil {
				return fmt.Errorf("upsert story start: %w", err)
			}
			s.tracker.start(evt.SessionID, evt.TS)
			add(id, 0, evt.TS, func(d *store.SegmentDelta) { d.Views++ })
		case progress.StageSegmentChange:
			if prev, ok := s.tracker.move(evt.SessionID, evt.Segment, evt.TS); ok {
				add(id, prev.segment, evt.TS, func(d *store.SegmentDelta) {
					d.Dwell += evt.Dur
					if evt.Cause == progress.CauseAuto {
						d.Completions++
					} else {
						d.Skips++
					}
				})
			}
			add(id, evt.Segment, evt.TS, func(d *store.SegmentDelta) { d.Views++ })
		case progress.StageSegmentPause:
			add(id, evt.Segment, evt.TS, func(d *store.SegmentDelta) { d.Pauses++ })
		case progress.StageStoryDone, progress.StageStoryCancel:
			status := store.StoryCompleted
			if evt.Stage == progress.StageStoryCancel {
				status = store.StoryCanceled
			}
			if prev, ok := s.tracker.finish(evt.SessionID); ok {
				add(id, evt.Segment, evt.TS, func(d *store.SegmentDelta) {
					if dwell := evt.TS.Sub(prev.since); dwell > 0 {
						d.Dwell += dwell
					}
					if status == store.StoryCompleted {
						d.Completions++
					}
				})
			}
			err := s.repo.FinishStory(ctx, id, evt.TS, status, evt.Segment)
			if errors.Is(err, store.ErrNotFound) {
				s.logger.Debug("finish for unknown story run", zap.String("session_id", id.String()))
				continue
			}
			if err != nil {
				return fmt.Errorf("finish story: %w", err)
			}
		}
	}

	for _, key := range order {
		agg := deltas[key]
		if agg.delta.Empty() {
			continue
		}
		if err := s.repo.UpsertSegmentStats(ctx, key.story, key.segment, agg.delta, agg.at); err != nil {
			return fmt.Errorf("upsert segment stats: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
