package story

import (
	"math"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSegmentDuration is the on-screen time of one segment.
	DefaultSegmentDuration = 7 * time.Second
	// DefaultTicksPerSecond is the progress update rate.
	DefaultTicksPerSecond = 60
)

// Controller owns the timing state of the active segment: its progress
// fraction, pause state and the armed tick schedule. The Coordinator is its
// only caller; exported methods are read-only.
type Controller struct {
	sched    Scheduler
	duration time.Duration
	rate     int
	logger   *zap.Logger

	segmentCount   int
	currentSegment int
	progress       float64
	pausedProgress float64
	animating      bool
	paused         bool

	// Step accounting for the armed schedule. Progress moves linearly from
	// baseProgress to 1 over totalSteps ticks.
	baseProgress  float64
	stepIncrement float64
	currentStep   int
	totalSteps    int
	interval      time.Duration
	handle        Handle

	onComplete func()
}

func newController(segmentCount int, sched Scheduler, duration time.Duration, rate int, logger *zap.Logger) *Controller {
	if segmentCount < 1 {
		segmentCount = 1
	}
	return &Controller{
		sched:        sched,
		duration:     duration,
		rate:         rate,
		logger:       logger,
		segmentCount: segmentCount,
	}
}

// SegmentCount reports the fixed number of segments.
func (c *Controller) SegmentCount() int { return c.segmentCount }

// Segment reports the index of the segment being timed.
func (c *Controller) Segment() int { return c.currentSegment }

// Progress reports the completed fraction of the current segment.
func (c *Controller) Progress() float64 { return c.progress }

// Animating reports whether a tick schedule is armed.
func (c *Controller) Animating() bool { return c.animating }

// Paused reports whether the segment was explicitly paused.
func (c *Controller) Paused() bool { return c.paused }

// Interval reports the spacing of the armed ticks, or zero when idle.
func (c *Controller) Interval() time.Duration {
	if !c.animating {
		return 0
	}
	return c.interval
}

// Remaining reports how much segment time is left: the unticked part of the
// armed schedule while animating, or the time a resume would schedule.
func (c *Controller) Remaining() time.Duration {
	switch {
	case c.animating:
		return time.Duration(c.totalSteps-c.currentStep) * c.interval
	case c.paused:
		return c.resumeDuration()
	default:
		return 0
	}
}

func (c *Controller) setSegment(index int) {
	c.currentSegment = clampIndex(index, c.segmentCount)
}

// startSegment arms ticks that carry progress from its current value to 1
// over remaining. It is a no-op while a schedule is already armed.
func (c *Controller) startSegment(remaining time.Duration) {
	if c.animating {
		return
	}
	if remaining <= 0 {
		remaining = c.duration
	}
	c.cancelSchedule()

	steps := int(math.Round(remaining.Seconds() * float64(c.rate)))
	if steps < 1 {
		steps = 1
	}
	interval := remaining / time.Duration(steps)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	c.progress = clampUnit(c.progress)
	c.baseProgress = c.progress
	c.totalSteps = steps
	c.currentStep = 0
	c.stepIncrement = (1 - c.baseProgress) / float64(steps)
	c.interval = interval
	c.animating = true
	c.handle = c.sched.Schedule(interval, c.tick)

	c.logger.Debug("segment schedule armed",
		zap.Int("segment", c.currentSegment),
		zap.Float64("from", c.baseProgress),
		zap.Int("steps", steps),
		zap.Duration("interval", interval),
		zap.Duration("remaining", remaining),
	)
}

func (c *Controller) tick() {
	if c.paused || !c.animating {
		return
	}
	c.currentStep++
	c.progress = clampUnit(c.baseProgress + float64(c.currentStep)*c.stepIncrement)
	if c.currentStep < c.totalSteps {
		return
	}
	c.cancelSchedule()
	c.progress = 0
	c.pausedProgress = 0
	c.animating = false
	if c.onComplete != nil {
		c.onComplete()
	}
}

func (c *Controller) pause() bool {
	if !c.animating {
		return false
	}
	c.pausedProgress = c.progress
	c.cancelSchedule()
	c.animating = false
	c.paused = true
	return true
}

func (c *Controller) resume() bool {
	if !c.paused || c.animating {
		return false
	}
	remaining := c.resumeDuration()
	c.paused = false
	c.progress = c.pausedProgress
	c.pausedProgress = 0
	c.startSegment(remaining)
	return true
}

func (c *Controller) resumeDuration() time.Duration {
	remaining := time.Duration((1 - c.pausedProgress) * float64(c.duration))
	if remaining <= 0 {
		remaining = c.duration
	}
	return remaining
}

func (c *Controller) resetSegment() {
	c.cancelSchedule()
	c.progress = 0
	c.pausedProgress = 0
	c.animating = false
	c.paused = false
}

// halt releases the schedule without touching progress.
func (c *Controller) halt() {
	c.cancelSchedule()
	c.pausedProgress = 0
	c.animating = false
	c.paused = false
}

func (c *Controller) cancelSchedule() {
	if c.handle == nil {
		return
	}
	c.handle.Cancel()
	c.handle = nil
}
