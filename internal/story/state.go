package story

import "time"

// Phase is the coarse lifecycle position of a Coordinator.
type Phase string

// Supported phases.
const (
	PhaseIdle      Phase = "idle"
	PhaseAnimating Phase = "animating"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
)

// State is a read-only snapshot used by rendering layers.
type State struct {
	SegmentCount   int           `json:"segment_count"`
	CurrentSegment int           `json:"current_segment"`
	Progress       float64       `json:"progress"`
	Animating      bool          `json:"animating"`
	Paused         bool          `json:"paused"`
	Completed      bool          `json:"completed"`
	Phase          Phase         `json:"phase"`
	Remaining      time.Duration `json:"remaining"`
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func clampIndex(i, count int) int {
	switch {
	case i < 0:
		return 0
	case i >= count:
		return count - 1
	default:
		return i
	}
}
