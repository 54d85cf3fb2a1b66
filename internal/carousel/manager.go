package carousel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	idgen "github.com/JakeFAU/storyprogress/internal/id/uuid"
	"github.com/JakeFAU/storyprogress/internal/metrics"
	"github.com/JakeFAU/storyprogress/internal/progress"
	"github.com/JakeFAU/storyprogress/internal/story"
)

var (
	// ErrSessionNotFound is returned when a story id has no live session.
	ErrSessionNotFound = errors.New("story session not found")
	// ErrTooManySessions is returned when MaxSessions would be exceeded.
	ErrTooManySessions = errors.New("too many story sessions")
	// ErrUnknownCommand is returned for command names outside Commands.
	ErrUnknownCommand = errors.New("unknown story command")
)

// Runner executes work on the serialized queue that also delivers ticks.
type Runner interface {
	story.Scheduler
	Call(ctx context.Context, fn func()) error
}

// IDSource mints session ids.
type IDSource interface {
	NewRawID() (uuid.UUID, error)
}

// Config controls session creation.
//   - SegmentDuration, TicksPerSecond: passed to every coordinator.
//   - AutoDismiss: release sessions as soon as they complete.
//   - MaxSessions: cap on live sessions (default 1024).
//   - Emitter: receives every coordinator event.
//   - Clock: event timestamps (default system clock).
//   - IDs: session id source (default uuid v7).
//   - OnRelease: called on the runner after a session is removed.
type Config struct {
	SegmentDuration time.Duration
	TicksPerSecond  int
	AutoDismiss     bool
	MaxSessions     int
	Emitter         progress.Emitter
	Clock           story.Clock
	IDs             IDSource
	OnRelease       func(id uuid.UUID)
	Logger          *zap.Logger
}

const defaultMaxSessions = 1024

// View is the externally visible state of a session.
type View struct {
	ID        uuid.UUID   `json:"story_id"`
	CreatedAt time.Time   `json:"created_at"`
	State     story.State `json:"state"`
}

// Manager owns the live sessions. Its state is only touched on the runner.
type Manager struct {
	runner   Runner
	cfg      Config
	logger   *zap.Logger
	sessions map[uuid.UUID]*Session
}

// NewManager builds a Manager that executes coordinator calls on runner.
func NewManager(runner Runner, cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runner:   runner,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create presents a new carousel with segments cards and starts it. Counts below one are clamped to one.
func (m *Manager) Create(ctx context.Context, segments int) (View, error) {
	id, err := m.cfg.IDs.NewRawID()
	if err != nil {
		return View{}, fmt.Errorf("new session id: %w", err)
	}
	var (
		view   View
		runErr error
	)
	err = m.runner.Call(ctx, func() {
		if len(m.sessions) >= m.cfg.MaxSessions {
			runErr = ErrTooManySessions
			return
		}
		s := m.open(id, segments)
		s.coord.Start()
		view = s.view()
	})
	if err != nil {
		return View{}, fmt.Errorf("create session: %w", err)
	}
	return view, runErr
}

// Get returns the current view of a session.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (View, error) {
	return m.with(ctx, id, func(*Session) {})
}

// List returns every live session ordered by creation.
func (m *Manager) List(ctx context.Context) ([]View, error) {
	var views []View
	err := m.runner.Call(ctx, func() {
		views = make([]View, 0, len(m.sessions))
		for _, s := range m.sessions {
			views = append(views, s.view())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].ID.String() < views[j].ID.String()
		}
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views, nil
}

// Len reports the number of live sessions.
func (m *Manager) Len(ctx context.Context) (int, error) {
	var n int
	if err := m.runner.Call(ctx, func() { n = len(m.sessions) }); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Command applies a named coordinator command.
func (m *Manager) Command(ctx context.Context, id uuid.UUID, cmd Command) (View, error) {
	apply, ok := commandTable[cmd]
	if !ok {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	metrics.ObserveCommand(string(cmd))
	return m.with(ctx, id, func(s *Session) { apply(s.coord) })
}

// Seek jumps a session to index. Out-of-range indexes leave it unchanged.
func (m *Manager) Seek(ctx context.Context, id uuid.UUID, index int) (View, error) {
	metrics.ObserveCommand("seek")
	return m.with(ctx, id, func(s *Session) { s.coord.Seek(index) })
}

// Gesture translates a user gesture. Unknown gesture types are ignored.
func (m *Manager) Gesture(ctx context.Context, id uuid.UUID, g Gesture) (View, error) {
	return m.with(ctx, id, func(s *Session) {
		if !s.gesture(g) {
			m.logger.Debug("gesture ignored", zap.String("story_id", id.String()), zap.String("type", string(g.Type)))
			return
		}
		metrics.ObserveGesture(string(g.Type))
	})
}

// Lifecycle delivers a screen lifecycle notification. Dismiss releases the
// session; the returned view is its final state. Unknown events are ignored.
func (m *Manager) Lifecycle(ctx context.Context, id uuid.UUID, evt LifecycleEvent) (View, error) {
	return m.with(ctx, id, func(s *Session) {
		switch evt {
		case LifecycleAppear:
			s.appear()
		case LifecycleBackground:
			s.coord.Pause()
		case LifecycleForeground:
			s.coord.Resume()
		case LifecycleDismiss:
			m.release(s, "dismissed")
		default:
			m.logger.Debug("lifecycle event ignored", zap.String("story_id", id.String()), zap.String("event", string(evt)))
		}
	})
}

// Dismiss tears down a session and releases its timer.
func (m *Manager) Dismiss(ctx context.Context, id uuid.UUID) (View, error) {
	return m.Lifecycle(ctx, id, LifecycleDismiss)
}

// Close dismisses every live session.
func (m *Manager) Close(ctx context.Context) error {
	err := m.runner.Call(ctx, func() {
		for _, s := range m.sessions {
			m.release(s, "shutdown")
		}
	})
	if err != nil {
		return fmt.Errorf("close sessions: %w", err)
	}
	return nil
}

func (m *Manager) with(ctx context.Context, id uuid.UUID, fn func(*Session)) (View, error) {
	var (
		view  View
		found bool
	)
	err := m.runner.Call(ctx, func() {
		s, ok := m.sessions[id]
		if !ok {
			return
		}
		found = true
		fn(s)
		view = s.view()
	})
	if err != nil {
		return View{}, fmt.Errorf("session %s: %w", id, err)
	}
	if !found {
		return View{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return view, nil
}

func (m *Manager) open(id uuid.UUID, segments int) *Session {
	logger := m.logger.Named("session")
	s := &Session{
		coord: story.New(segments, m.runner, story.Config{
			SegmentDuration: m.cfg.SegmentDuration,
			TicksPerSecond:  m.cfg.TicksPerSecond,
			SessionID:       id,
			Emitter:         m.cfg.Emitter,
			Clock:           m.cfg.Clock,
			Logger:          logger,
		}),
		logger: logger.With(zap.String("story_id", id.String())),
	}
	s.createdAt = m.now()
	s.coord.OnCompleted(func() { m.completed(s) })
	m.sessions[id] = s
	metrics.SessionOpened()
	m.logger.Info("story session opened",
		zap.String("story_id", id.String()),
		zap.Int("segments", s.coord.SegmentCount()),
	)
	return s
}

func (m *Manager) now() time.Time {
	if m.cfg.Clock != nil {
		return m.cfg.Clock.Now()
	}
	return time.Now().UTC()
}

func (m *Manager) completed(s *Session) {
	s.logger.Debug("story session completed")
	if m.cfg.AutoDismiss {
		m.release(s, "completed")
	}
}

func (m *Manager) release(s *Session, reason string) {
	id := s.coord.ID()
	if _, ok := m.sessions[id]; !ok {
		return
	}
	s.coord.Cancel()
	delete(m.sessions, id)
	metrics.SessionClosed()
	m.logger.Info("story session released", zap.String("story_id", id.String()), zap.String("reason", reason))
	if m.cfg.OnRelease != nil {
		m.cfg.OnRelease(id)
	}
}
