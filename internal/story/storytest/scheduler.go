// Package storytest provides a deterministic scheduler for driving story
// coordinators in tests without wall-clock timers.
package storytest

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/storyprogress/internal/story"
)

// Scheduler is a manual story.Scheduler with a virtual clock. Ticks only fire
// when the test calls Fire or Advance. It also satisfies story.Clock so event
// timestamps follow virtual time.
type Scheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
	last   *timer
	armed  int
}

type timer struct {
	s        *Scheduler
	interval time.Duration
	next     time.Time
	fn       func()
	canceled bool
}

// New returns a Scheduler whose virtual clock starts at start. A zero start
// uses a fixed date so tests stay reproducible.
func New(start time.Time) *Scheduler {
	if start.IsZero() {
		start = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Scheduler{now: start}
}

// Schedule records a repeating callback. It never fires on its own.
func (s *Scheduler) Schedule(interval time.Duration, fn func()) story.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &timer{s: s, interval: interval, next: s.now.Add(interval), fn: fn}
	s.timers = append(s.timers, t)
	s.last = t
	s.armed++
	return t
}

// Cancel stops future deliveries from Fire and Advance.
func (t *timer) Cancel() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.canceled {
		return
	}
	t.canceled = true
	for i, cur := range t.s.timers {
		if cur == t {
			t.s.timers = append(t.s.timers[:i], t.s.timers[i+1:]...)
			break
		}
	}
}

// Now reports the virtual time.
func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Fire delivers up to n ticks to the most recently armed live schedule,
// advancing the virtual clock by one interval per tick. It returns the number
// of ticks delivered and stops early once nothing is armed.
func (s *Scheduler) Fire(n int) int {
	fired := 0
	for fired < n {
		s.mu.Lock()
		t := s.current()
		if t == nil {
			s.mu.Unlock()
			break
		}
		s.now = t.next
		t.next = t.next.Add(t.interval)
		fn := t.fn
		s.mu.Unlock()
		fn()
		fired++
	}
	return fired
}

// Advance moves the virtual clock forward by d, delivering every tick that
// falls due on the way in time order. It returns the number of ticks delivered.
func (s *Scheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()
	fired := 0
	for {
		s.mu.Lock()
		var due *timer
		for _, t := range s.timers {
			if t.next.After(target) {
				continue
			}
			if due == nil || t.next.Before(due.next) {
				due = t
			}
		}
		if due == nil {
			s.now = target
			s.mu.Unlock()
			return fired
		}
		s.now = due.next
		due.next = due.next.Add(due.interval)
		fn := due.fn
		s.mu.Unlock()
		fn()
		fired++
	}
}

// Replay invokes the last armed callback n times even if it was canceled,
// simulating ticks that were already in flight when the schedule stopped.
func (s *Scheduler) Replay(n int) {
	s.mu.Lock()
	t := s.last
	s.mu.Unlock()
	if t == nil {
		return
	}
	for i := 0; i < n; i++ {
		t.fn()
	}
}

// Live reports how many schedules are armed and not canceled.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Armed reports how many schedules were created in total.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Interval reports the spacing of the current live schedule, or zero.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.current(); t != nil {
		return t.interval
	}
	return 0
}

// Call runs fn synchronously, giving tests the same surface as the event loop.
func (s *Scheduler) Call(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}

func (s *Scheduler) current() *timer {
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}
