package playback

import (
	"github.com/google/uuid"

	"github.com/soundbed/segue/pkg/track"
)

// EventType classifies engine notifications.
type EventType int

const (
	// StateChanged fires after every committed state change.
	StateChanged EventType = iota
	// TransitionProgress fires once per fade step while Transitioning.
	TransitionProgress
	// TransitionCommitted fires after a crossfade lands on its target.
	TransitionCommitted
	// TransitionRolledBack fires after an interrupted or failed
	// crossfade restored the single-channel invariant.
	TransitionRolledBack
	// TransitionFrozen fires after a crossfade was suspended in place.
	TransitionFrozen
)

func (t EventType) String() string {
	switch t {
	case StateChanged:
		return "STATE_CHANGED"
	case TransitionProgress:
		return "TRANSITION_PROGRESS"
	case TransitionCommitted:
		return "TRANSITION_COMMITTED"
	case TransitionRolledBack:
		return "TRANSITION_ROLLED_BACK"
	case TransitionFrozen:
		return "TRANSITION_FROZEN"
	default:
		return "UNKNOWN"
	}
}

// Event is one engine notification. State always carries the
// post-commit value; the transition fields are populated for the
// transition-scoped types. Within one transition id, progress events
// arrive in strictly increasing order and the terminal
// committed/rolled-back/frozen event is always last.
type Event struct {
	Type                EventType
	State               State
	From                track.Track
	To                  track.Track
	Progress            float64
	QuickFinishEligible bool
	TransitionID        uuid.UUID
}
