package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageStoryStart))
	hub.Emit(sampleEvent(StageSegmentPause))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, StageStoryStart, sink.Batches()[0][0].Stage)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageStoryStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNonBlockingWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageStoryStart))
	hub.Emit(sampleEvent(StageStoryStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(2), hub.Dropped())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)

	bad := sampleEvent(StageSegmentChange)
	bad.Cause = ""
	hub.Emit(bad)
	hub.Emit(Event{})

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.True(t, sink.Closed())
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageStoryDone))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	hub.Emit(sampleEvent(StageStoryStart))
	require.Len(t, sink.Batches(), 1)
}

func TestHubSinkErrorsDoNotStopDelivery(t *testing.T) {
	t.Parallel()

	failing := &stubSink{err: errors.New("boom")}
	ok := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, failing, nil, ok)

	hub.Emit(sampleEvent(StageStoryStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, ok.Batches(), 1)
}

func TestNilHubIsInert(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageStoryStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Zero(t, hub.Dropped())
}

func TestTeeSkipsNil(t *testing.T) {
	t.Parallel()

	var got []Stage
	rec := EmitterFunc(func(evt Event) { got = append(got, evt.Stage) })
	Tee(rec, nil, rec).Emit(sampleEvent(StageStoryReset))
	require.Equal(t, []Stage{StageStoryReset, StageStoryReset}, got)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		mutate func(*Event)
		ok     bool
	}{
		"valid":          {mutate: func(*Event) {}, ok: true},
		"missing id":     {mutate: func(e *Event) { e.SessionID = [16]byte{} }},
		"missing ts":     {mutate: func(e *Event) { e.TS = time.Time{} }},
		"no segments":    {mutate: func(e *Event) { e.SegmentCount = 0 }},
		"segment range":  {mutate: func(e *Event) { e.Segment = 3 }},
		"no cause":       {mutate: func(e *Event) { e.Cause = "" }},
		"unknown stage":  {mutate: func(e *Event) { e.Stage = "NOPE" }},
		"progress range": {mutate: func(e *Event) { e.Progress = 1.5 }},
		"negative dur":   {mutate: func(e *Event) { e.Dur = -time.Second }},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			evt := sampleEvent(StageSegmentChange)
			tc.mutate(&evt)
			err := evt.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func TestEventTerminalAndUUID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	evt := Event{SessionID: UUIDToBytes(id), Stage: StageStoryCancel}
	require.True(t, evt.Terminal())
	require.Equal(t, id, evt.SessionUUID())
	evt.Stage = StageSegmentResume
	require.False(t, evt.Terminal())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
	err     error
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		SessionID:    UUIDToBytes(uuid.New()),
		TS:           time.Now(),
		Stage:        stage,
		Segment:      1,
		SegmentCount: 3,
		Progress:     0.25,
	}
	if stage == StageSegmentChange {
		evt.Cause = CauseNext
	}
	return evt
}
