package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 256).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub buffers story events and fans batches out to sinks on a background
// goroutine. Emit is safe for concurrent use and never blocks, so a slow sink
// can never stall a coordinator's loop.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	closed  atomic.Bool
	dropped atomic.Int64
	total   atomic.Int64
	warn    dropWarner

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub delivering to sinks. Zero Config fields take defaults.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
		warn:   dropWarner{interval: dropLogInterval},
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.run()
	return h
}

// Emit validates and enqueues evt. When the buffer is full the event is
// dropped and a rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid story event", zap.Error(err), zap.String("stage", string(evt.Stage)))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		if n := h.total.Add(1); h.warn.allow(time.Now()) {
			h.logger.Warn("story events dropped due to backpressure",
				zap.Int64("dropped", h.dropped.Swap(0)),
				zap.Int64("dropped_total", n),
			)
		}
	}
}

// Dropped reports how many events were discarded for backpressure since start.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.total.Load()
}

// Close stops intake, flushes buffered events, closes every sink and waits
// for the background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// batch holds pending events and the flush timer armed for them.
type batch struct {
	events []Event
	timer  *time.Timer
	armed  bool
}

func (b *batch) disarm() {
	if !b.armed {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}

func (b *batch) rearm(wait time.Duration) {
	b.disarm()
	b.timer.Reset(wait)
	b.armed = true
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := &batch{
		events: make([]Event, 0, h.cfg.MaxBatchEvents),
		timer:  time.NewTimer(h.cfg.MaxBatchWait),
	}
	b.timer.Stop()
	for {
		select {
		case evt := <-h.events:
			b.events = append(b.events, evt)
			if len(b.events) >= h.cfg.MaxBatchEvents {
				h.flush(b)
				b.disarm()
				continue
			}
			b.rearm(h.cfg.MaxBatchWait)
		case <-b.timer.C:
			b.armed = false
			h.flush(b)
		case <-h.stopCh:
			b.disarm()
			h.drain(b)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(b *batch) {
	for {
		select {
		case evt := <-h.events:
			b.events = append(b.events, evt)
			if len(b.events) >= h.cfg.MaxBatchEvents {
				h.flush(b)
			}
		default:
			h.flush(b)
			return
		}
	}
}

func (h *Hub) flush(b *batch) {
	if len(b.events) == 0 {
		return
	}
	out := append([]Event(nil), b.events...)
	b.events = b.events[:0]
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("story sink consume failed",
				zap.Error(err),
				zap.Int("batch", len(out)),
				zap.String("sink", fmt.Sprintf("%T", sink)),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("story sink close failed", zap.Error(err), zap.String("sink", fmt.Sprintf("%T", sink)))
		}
	}
}

// dropWarner limits backpressure warnings to one per interval.
type dropWarner struct {
	interval time.Duration
	last     atomic.Int64
}

func (w *dropWarner) allow(now time.Time) bool {
	if w.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := w.last.Load()
	if nano-last < w.interval.Nanoseconds() {
		return false
	}
	return w.last.CompareAndSwap(last, nano)
}
