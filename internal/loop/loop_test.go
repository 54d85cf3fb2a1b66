package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storyprogress/internal/story"
)

func newTestLoop(t *testing.T, size int) *Loop {
	t.Helper()
	l := New(Config{BufferSize: size})
	t.Cleanup(func() {
		require.NoError(t, l.Close(context.Background()))
	})
	return l
}

func TestPostRunsInOrder(t *testing.T) {
	t.Parallel()

	l := newTestLoop(t, 16)
	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestPostReportsFull(t *testing.T) {
	t.Parallel()

	l := newTestLoop(t, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, l.Post(func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, l.Post(func() {}))
	require.ErrorIs(t, l.Post(func() {}), ErrFull)
	close(release)
}

func TestCallRecoversPanics(t *testing.T) {
	t.Parallel()

	l := newTestLoop(t, 4)
	err := l.Call(context.Background(), func() { panic("boom") })
	require.ErrorContains(t, err, "boom")
	require.NoError(t, l.Call(context.Background(), func() {}))
}

func TestCallHonorsContext(t *testing.T) {
	t.Parallel()

	l := newTestLoop(t, 4)
	release := make(chan struct{})
	require.NoError(t, l.Post(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Call(ctx, func() {})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestCloseDrainsAndRejects(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Post(func() { ran.Add(1) }))
	}
	require.NoError(t, l.Close(context.Background()))
	require.NoError(t, l.Close(context.Background()))
	require.Equal(t, int32(5), ran.Load())

	require.ErrorIs(t, l.Post(func() {}), ErrClosed)
	require.ErrorIs(t, l.Call(context.Background(), func() {}), ErrClosed)
}

func TestScheduleTicksOnLoopUntilCanceled(t *testing.T) {
	t.Parallel()

	l := newTestLoop(t, 16)
	var ticks atomic.Int32
	var h story.Handle
	require.NoError(t, l.Call(context.Background(), func() {
		h = l.Schedule(time.Millisecond, func() { ticks.Add(1) })
	}))

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	var atCancel int32
	require.NoError(t, l.Call(context.Background(), func() {
		h.Cancel()
		atCancel = ticks.Load()
	}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Call(context.Background(), func() {}))
	require.Equal(t, atCancel, ticks.Load())
	h.Cancel()
}

func TestCoordinatorOnLoopCompletes(t *testing.T) {
	t.Parallel()

	l := newTestLoop(t, 64)
	done := make(chan struct{})
	var changes []int
	c := story.New(2, l, story.Config{SegmentDuration: 30 * time.Millisecond, TicksPerSecond: 400})
	require.NoError(t, l.Call(context.Background(), func() {
		c.OnSegmentChanged(func(i int) { changes = append(changes, i) })
		c.OnCompleted(func() { close(done) })
		c.Start()
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("story did not complete")
	}
	require.NoError(t, l.Call(context.Background(), func() {
		require.Equal(t, []int{1}, changes)
		require.True(t, c.Snapshot().Completed)
		c.Cancel()
	}))
}
