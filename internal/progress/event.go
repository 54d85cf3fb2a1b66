// Package progress defines the event structures emitted by story coordinators.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageStoryStart    Stage = "STORY_START"
	StageSegmentChange Stage = "SEGMENT_CHANGE"
	StageSegmentPause  Stage = "SEGMENT_PAUSE"
	StageSegmentResume Stage = "SEGMENT_RESUME"
	StageStoryReset    Stage = "STORY_RESET"
	StageStoryDone     Stage = "STORY_DONE"
	StageStoryCancel   Stage = "STORY_CANCEL"
)

// Cause records what moved a story to a new segment.
type Cause string

// Supported segment change causes.
const (
	CauseAuto     Cause = "auto"
	CauseNext     Cause = "next"
	CausePrevious Cause = "previous"
	CauseSeek     Cause = "seek"
)

// Event captures a single story lifecycle transition.
type Event struct {
	// SessionID identifies the carousel session using the 16-byte UUID form.
	SessionID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Segment is the active segment after the transition.
	Segment int
	// SegmentCount is the fixed length of the story.
	SegmentCount int
	// Progress is the fraction of Segment shown at the transition.
	Progress float64
	// Cause is set for segment changes.
	Cause Cause
	// Dur is the dwell on the previous segment for changes, the pause length
	// for resumes and the total story time for completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.SegmentCount < 1 {
		return errors.New("segment count must be >= 1")
	}
	if e.Segment < 0 || e.Segment >= e.SegmentCount {
		return fmt.Errorf("segment %d outside [0,%d)", e.Segment, e.SegmentCount)
	}
	switch e.Stage {
	case StageStoryStart, StageSegmentPause, StageSegmentResume, StageStoryReset, StageStoryDone, StageStoryCancel:
	case StageSegmentChange:
		if e.Cause == "" {
			return errors.New("segment change requires cause")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Progress < 0 || e.Progress > 1 {
		return errors.New("progress must be within [0,1]")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends a story session.
func (e Event) Terminal() bool {
	return e.Stage == StageStoryDone || e.Stage == StageStoryCancel
}

// SessionUUID converts the binary session ID to uuid.UUID for repositories.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
