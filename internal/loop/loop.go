// Package loop provides the single goroutine on which story coordinators run.
// Commands, lifecycle notifications and timer ticks are all posted to one
// queue and executed in order, so coordinator state is never touched from two
// goroutines at once.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/metrics"
	"github.com/JakeFAU/storyprogress/internal/story"
)

var (
	// ErrClosed is returned once Close has begun.
	ErrClosed = errors.New("loop closed")
	// ErrFull is returned by Post when the queue is at capacity.
	ErrFull = errors.New("loop queue full")
)

const defaultBufferSize = 256

// Config controls the loop queue.
//   - BufferSize: capacity of the work queue (default 256).
//   - Logger: optional structured logger.
type Config struct {
	BufferSize int
	Logger     *zap.Logger
}

// Loop executes posted work on one goroutine. It implements story.Scheduler
// by posting timer ticks onto the same queue.
type Loop struct {
	work   chan func()
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger
	closed atomic.Bool

	closeOnce sync.Once
}

var _ story.Scheduler = (*Loop)(nil)

// New starts a Loop.
func New(cfg Config) *Loop {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		work:   make(chan func(), cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

// Post enqueues fn without blocking.
func (l *Loop) Post(fn func()) error {
	if l.closed.Load() {
		metrics.ObserveLoopRejected("closed")
		return ErrClosed
	}
	select {
	case l.work <- fn:
		return nil
	default:
		metrics.ObserveLoopRejected("full")
		return ErrFull
	}
}

// Call enqueues fn and waits until it has run. It must not be called from
// the loop goroutine itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	if l.closed.Load() {
		return ErrClosed
	}
	done := make(chan struct{})
	var panicErr error
	wrapped := func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				panicErr = fmt.Errorf("loop call panicked: %v", r)
			}
		}()
		fn()
	}
	select {
	case l.work <- wrapped:
	case <-l.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue loop call: %w", ctx.Err())
	}
	select {
	case <-done:
		return panicErr
	case <-l.doneCh:
		select {
		case <-done:
			return panicErr
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return fmt.Errorf("wait loop call: %w", ctx.Err())
	}
}

// Schedule starts a repeating timer whose ticks run fn on the loop. Ticks
// coalesce: while one is queued the next is skipped, as with time.Ticker.
// After Cancel returns on the loop goroutine no further tick runs, including
// ticks already queued.
func (l *Loop) Schedule(interval time.Duration, fn func()) story.Handle {
	if interval <= 0 {
		interval = time.Millisecond
	}
	h := &handle{stop: make(chan struct{})}
	go l.tick(h, interval, fn)
	return h
}

// Close stops accepting work, runs what is already queued and waits for the
// loop goroutine to exit.
func (l *Loop) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stopCh)
	})
	select {
	case <-l.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("loop close wait: %w", ctx.Err())
	}
}

func (l *Loop) run() {
	defer close(l.doneCh)
	for {
		select {
		case fn := <-l.work:
			l.exec(fn)
		case <-l.stopCh:
			for {
				select {
				case fn := <-l.work:
					l.exec(fn)
				default:
					return
				}
			}
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func (l *Loop) tick(h *handle, interval time.Duration, fn func()) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if !h.pending.CompareAndSwap(false, true) {
				continue
			}
			err := l.Post(func() {
				h.pending.Store(false)
				if h.canceled.Load() {
					return
				}
				fn()
			})
			if err != nil {
				h.pending.Store(false)
				if errors.Is(err, ErrClosed) {
					return
				}
				l.logger.Debug("tick dropped", zap.Error(err))
			}
		case <-h.stop:
			return
		case <-l.stopCh:
			return
		}
	}
}

type handle struct {
	canceled atomic.Bool
	pending  atomic.Bool
	stop     chan struct{}
	once     sync.Once
}

// Cancel stops the timer goroutine and discards queued ticks.
func (h *handle) Cancel() {
	h.canceled.Store(true)
	h.once.Do(func() { close(h.stop) })
}
