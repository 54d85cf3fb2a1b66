package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storyprogress/internal/store"
)

func TestViewStoreRunLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewViewStore()
	id := uuid.New()
	start := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.UpsertStoryStart(ctx, id, 3, start))
	require.NoError(t, s.FinishStory(ctx, id, start.Add(21*time.Second), store.StoryCompleted, 2))

	run, err := s.GetStory(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StoryCompleted, run.Status)
	require.Equal(t, 2, run.LastSegment)
	require.NotNil(t, run.FinishedAt)

	require.NoError(t, s.UpsertStoryStart(ctx, id, 3, start.Add(time.Minute)))
	run, err = s.GetStory(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StoryRunning, run.Status)
	require.Nil(t, run.FinishedAt)
	require.Equal(t, 1, run.Resets)

	_, err = s.GetStory(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.FinishStory(ctx, uuid.New(), start, store.StoryCanceled, 0), store.ErrNotFound)
}

func TestViewStoreListStoriesFiltersAndPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewViewStore()
	base := time.Unix(1700000000, 0).UTC()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		require.NoError(t, s.UpsertStoryStart(ctx, id, 2, base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, s.FinishStory(ctx, ids[1], base.Add(time.Hour), store.StoryCanceled, 1))

	all, err := s.ListStories(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, ids[2], all[0].ID)

	running := store.StoryRunning
	filtered, err := s.ListStories(ctx, &running, 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	paged, err := s.ListStories(ctx, nil, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, ids[1], paged[0].ID)

	empty, err := s.ListStories(ctx, nil, 10, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestViewStoreSegmentStatsAccumulate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewViewStore()
	id := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.UpsertSegmentStats(ctx, id, 1, store.SegmentDelta{Views: 1}, at))
	require.NoError(t, s.UpsertSegmentStats(ctx, id, 0, store.SegmentDelta{Views: 1, Completions: 1, Dwell: 7 * time.Second}, at))
	require.NoError(t, s.UpsertSegmentStats(ctx, id, 1, store.SegmentDelta{Pauses: 2, Skips: 1, Dwell: time.Second}, at.Add(time.Second)))

	stats, err := s.ListSegments(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, 0, stats[0].Segment)
	require.Equal(t, 7*time.Second, stats[0].Dwell)
	require.Equal(t, int64(1), stats[1].Views)
	require.Equal(t, int64(2), stats[1].Pauses)
	require.Equal(t, int64(1), stats[1].Skips)
	require.Equal(t, at.Add(time.Second), stats[1].LastUpdate)
}
