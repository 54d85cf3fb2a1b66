package carousel

import (
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/story"
)

// Command names a coordinator command reachable from the host.
type Command string

// Supported commands.
const (
	CommandStart    Command = "start"
	CommandNext     Command = "next"
	CommandPrevious Command = "previous"
	CommandPause    Command = "pause"
	CommandResume   Command = "resume"
	CommandReset    Command = "reset"
)

var commandTable = map[Command]func(*story.Coordinator){
	CommandStart:    (*story.Coordinator).Start,
	CommandNext:     (*story.Coordinator).Next,
	CommandPrevious: (*story.Coordinator).Previous,
	CommandPause:    (*story.Coordinator).Pause,
	CommandResume:   (*story.Coordinator).Resume,
	CommandReset:    (*story.Coordinator).Reset,
}

// ParseCommand validates a command name.
func ParseCommand(name string) (Command, bool) {
	cmd := Command(name)
	_, ok := commandTable[cmd]
	return cmd, ok
}

// GestureType names a user gesture on the card stack.
type GestureType string

// Supported gestures.
const (
	GestureTapNext        GestureType = "tap_next"
	GestureTapPrevious    GestureType = "tap_previous"
	GestureLongPressBegan GestureType = "long_press_began"
	GestureLongPressEnded GestureType = "long_press_ended"
	GestureSwipe          GestureType = "swipe"
)

// Gesture is one user interaction. Index is used by swipes, which land the
// linked card list on a new card.
type Gesture struct {
	Type  GestureType `json:"type"`
	Index int         `json:"index"`
}

// LifecycleEvent is a host screen notification.
type LifecycleEvent string

// Supported lifecycle events.
const (
	LifecycleAppear     LifecycleEvent = "appear"
	LifecycleBackground LifecycleEvent = "background"
	LifecycleForeground LifecycleEvent = "foreground"
	LifecycleDismiss    LifecycleEvent = "dismiss"
)

// Session is one presented carousel and its coordinator.
type Session struct {
	coord     *story.Coordinator
	createdAt time.Time
	logger    *zap.Logger
}

// appear restarts the story from the first card.
func (s *Session) appear() {
	s.coord.Reset()
}

func (s *Session) gesture(g Gesture) bool {
	switch g.Type {
	case GestureTapNext:
		s.coord.Next()
	case GestureTapPrevious:
		s.coord.Previous()
	case GestureLongPressBegan:
		s.coord.Pause()
	case GestureLongPressEnded:
		s.coord.Resume()
	case GestureSwipe:
		s.coord.Seek(g.Index)
	default:
		return false
	}
	s.logger.Debug("gesture applied", zap.String("type", string(g.Type)), zap.Int("segment", s.coord.ActiveIndex()))
	return true
}

func (s *Session) view() View {
	return View{
		ID:        s.coord.ID(),
		CreatedAt: s.createdAt,
		State:     s.coord.Snapshot(),
	}
}
