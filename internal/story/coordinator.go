package story

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/clock/system"
	"github.com/JakeFAU/storyprogress/internal/progress"
)

// Config controls segment timing and observability for a Coordinator.
//   - SegmentDuration: time to fill one segment (default 7s).
//   - TicksPerSecond: progress update rate (default 60).
//   - SessionID: identifies emitted events (default random UUID).
//   - Emitter: optional sink for lifecycle events.
//   - Clock: timestamps for events (default system clock).
//   - Logger: optional structured logger for transitions.
type Config struct {
	SegmentDuration time.Duration
	TicksPerSecond  int
	SessionID       uuid.UUID
	Emitter         progress.Emitter
	Clock           Clock
	Logger          *zap.Logger
}

// Coordinator sequences segments and exposes the navigation contract. It
// raises SegmentChanged whenever the active segment moves and Completed once
// per Start/Reset cycle after the last segment finishes.
type Coordinator struct {
	ctrl    *Controller
	id      uuid.UUID
	emitter progress.Emitter
	clock   Clock
	logger  *zap.Logger

	onChanged   []func(int)
	onCompleted []func()

	active    int
	running   bool
	completed bool

	storyStart   time.Time
	segmentStart time.Time
	pausedAt     time.Time
}

// New builds an idle Coordinator for segmentCount segments. Counts below one
// are clamped to one. A nil scheduler yields a coordinator that never ticks.
func New(segmentCount int, sched Scheduler, cfg Config) *Coordinator {
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = DefaultSegmentDuration
	}
	if cfg.TicksPerSecond <= 0 {
		cfg.TicksPerSecond = DefaultTicksPerSecond
	}
	if cfg.SessionID == uuid.Nil {
		cfg.SessionID = uuid.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session_id", cfg.SessionID.String()))
	if sched == nil {
		logger.Warn("no scheduler configured; segments will not advance")
		sched = noopScheduler{}
	}
	c := &Coordinator{
		ctrl:    newController(segmentCount, sched, cfg.SegmentDuration, cfg.TicksPerSecond, logger),
		id:      cfg.SessionID,
		emitter: cfg.Emitter,
		clock:   cfg.Clock,
		logger:  logger,
	}
	c.ctrl.onComplete = c.advanceToNextSegment
	return c
}

// ID returns the session identifier stamped on emitted events.
func (c *Coordinator) ID() uuid.UUID { return c.id }

// SegmentCount returns the fixed number of segments.
func (c *Coordinator) SegmentCount() int { return c.ctrl.segmentCount }

// ActiveIndex returns the segment currently shown.
func (c *Coordinator) ActiveIndex() int { return c.active }

// Controller exposes the read-only timing state.
func (c *Coordinator) Controller() *Controller { return c.ctrl }

// OnSegmentChanged registers fn to run after every active segment change.
func (c *Coordinator) OnSegmentChanged(fn func(index int)) {
	if fn != nil {
		c.onChanged = append(c.onChanged, fn)
	}
}

// OnCompleted registers fn to run when the last segment finishes.
func (c *Coordinator) OnCompleted(fn func()) {
	if fn != nil {
		c.onCompleted = append(c.onCompleted, fn)
	}
}

// Snapshot returns the observable state.
func (c *Coordinator) Snapshot() State {
	st := State{
		SegmentCount:   c.ctrl.segmentCount,
		CurrentSegment: c.active,
		Progress:       c.ctrl.progress,
		Animating:      c.ctrl.animating,
		Paused:         c.ctrl.paused,
		Completed:      c.completed,
		Remaining:      c.ctrl.Remaining(),
	}
	switch {
	case c.completed:
		st.Phase = PhaseCompleted
	case c.ctrl.paused:
		st.Phase = PhasePaused
	case c.ctrl.animating:
		st.Phase = PhaseAnimating
	default:
		st.Phase = PhaseIdle
	}
	return st
}

// Start begins the story at segment 0. It is ignored while running.
func (c *Coordinator) Start() {
	if c.running {
		c.ignore("start", "already running")
		return
	}
	now := c.clock.Now()
	c.running = true
	c.completed = false
	c.active = 0
	c.storyStart = now
	c.segmentStart = now
	c.ctrl.resetSegment()
	c.ctrl.setSegment(0)
	c.ctrl.startSegment(c.ctrl.duration)
	c.logger.Debug("story started", zap.Int("segments", c.ctrl.segmentCount))
	c.emit(progress.StageStoryStart, "", 0)
}

// Next moves to the following segment. There is no wraparound: on the last
// segment the call is ignored and does not complete the story.
func (c *Coordinator) Next() {
	if c.completed {
		c.ignore("next", "story completed")
		return
	}
	if c.active >= c.ctrl.segmentCount-1 {
		c.ignore("next", "last segment")
		return
	}
	c.moveTo(c.active+1, progress.CauseNext)
}

// Previous moves to the preceding segment. It is ignored on segment 0.
func (c *Coordinator) Previous() {
	if c.completed {
		c.ignore("previous", "story completed")
		return
	}
	if c.active <= 0 {
		c.ignore("previous", "first segment")
		return
	}
	c.moveTo(c.active-1, progress.CausePrevious)
}

// Seek jumps to index and restarts its timer. Indexes outside
// [0, SegmentCount) are ignored.
func (c *Coordinator) Seek(index int) {
	if c.completed {
		c.ignore("seek", "story completed")
		return
	}
	if index < 0 || index >= c.ctrl.segmentCount {
		c.logger.Debug("command ignored",
			zap.String("command", "seek"),
			zap.String("reason", "index out of range"),
			zap.Int("index", index),
		)
		return
	}
	c.moveTo(index, progress.CauseSeek)
}

// Pause freezes the current segment. It is ignored unless animating.
func (c *Coordinator) Pause() {
	if !c.ctrl.pause() {
		c.ignore("pause", "not animating")
		return
	}
	c.pausedAt = c.clock.Now()
	c.emit(progress.StageSegmentPause, "", 0)
}

// Resume continues a paused segment from the fraction captured by Pause.
func (c *Coordinator) Resume() {
	if !c.ctrl.resume() {
		c.ignore("resume", "not paused")
		return
	}
	var paused time.Duration
	if !c.pausedAt.IsZero() {
		paused = c.clock.Now().Sub(c.pausedAt)
		c.pausedAt = time.Time{}
	}
	c.emit(progress.StageSegmentResume, "", paused)
}

// Reset rewinds to segment 0, clears the completion latch and restarts.
func (c *Coordinator) Reset() {
	now := c.clock.Now()
	c.running = true
	c.completed = false
	c.active = 0
	c.storyStart = now
	c.segmentStart = now
	c.pausedAt = time.Time{}
	c.ctrl.resetSegment()
	c.ctrl.setSegment(0)
	c.ctrl.startSegment(c.ctrl.duration)
	c.logger.Debug("story reset")
	c.emit(progress.StageStoryReset, "", 0)
}

// Cancel releases any armed schedule without restarting. Hosts must call it
// on teardown so no timer outlives the screen. A completed story has already
// ended, so cancelling it emits nothing.
func (c *Coordinator) Cancel() {
	wasRunning := c.running && !c.completed
	c.ctrl.halt()
	c.running = false
	c.pausedAt = time.Time{}
	if !wasRunning {
		return
	}
	c.logger.Debug("story canceled", zap.Int("segment", c.active))
	c.emit(progress.StageStoryCancel, "", 0)
}

// advanceToNextSegment handles segment completion reported by the controller.
func (c *Coordinator) advanceToNextSegment() {
	if c.active+1 < c.ctrl.segmentCount {
		c.moveTo(c.active+1, progress.CauseAuto)
		return
	}
	if c.completed {
		return
	}
	c.completed = true
	c.logger.Debug("story completed", zap.Int("segments", c.ctrl.segmentCount))
	c.emit(progress.StageStoryDone, "", c.clock.Now().Sub(c.storyStart))
	for _, fn := range c.onCompleted {
		fn()
	}
}

func (c *Coordinator) moveTo(index int, cause progress.Cause) {
	now := c.clock.Now()
	dwell := now.Sub(c.segmentStart)
	if !c.running {
		c.running = true
		c.storyStart = now
		dwell = 0
	}
	c.active = clampIndex(index, c.ctrl.segmentCount)
	c.segmentStart = now
	c.pausedAt = time.Time{}
	c.ctrl.setSegment(c.active)
	c.ctrl.resetSegment()
	c.ctrl.startSegment(c.ctrl.duration)
	c.logger.Debug("segment changed", zap.Int("segment", c.active), zap.String("cause", string(cause)))
	c.emit(progress.StageSegmentChange, cause, dwell)
	for _, fn := range c.onChanged {
		fn(c.active)
	}
}

func (c *Coordinator) ignore(command, reason string) {
	c.logger.Debug("command ignored", zap.String("command", command), zap.String("reason", reason))
}

func (c *Coordinator) emit(stage progress.Stage, cause progress.Cause, dur time.Duration) {
	if c.emitter == nil {
		return
	}
	if dur < 0 {
		dur = 0
	}
	c.emitter.Emit(progress.Event{
		SessionID:    progress.UUIDToBytes(c.id),
		TS:           c.clock.Now(),
		Stage:        stage,
		Segment:      c.active,
		SegmentCount: c.ctrl.segmentCount,
		Progress:     c.ctrl.progress,
		Cause:        cause,
		Dur:          dur,
	})
}
