package crossfade

import (
	"github.com/google/uuid"

	"github.com/soundbed/segue/pkg/track"
)

// Event is one progress report from a transition run. Events for a
// single transition carry strictly increasing progress values.
type Event struct {
	TransitionID        uuid.UUID
	FromTrack           track.Track
	ToTrack             track.Track
	Progress            float64
	QuickFinishEligible bool
}

// Outcome is the terminal result of a transition run.
type Outcome int

const (
	// OutcomeNone means the run is still in flight.
	OutcomeNone Outcome = iota
	// OutcomeCommitted means the incoming track is now the sole
	// audible channel.
	OutcomeCommitted
	// OutcomeRolledBack means the outgoing track was restored to full
	// gain and the incoming channel stopped.
	OutcomeRolledBack
	// OutcomeFrozen means both channels were paused in place and a
	// snapshot captured.
	OutcomeFrozen
	// OutcomeFailed means a channel backend error ended the run after
	// a best-effort restore.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "NONE"
	case OutcomeCommitted:
		return "COMMITTED"
	case OutcomeRolledBack:
		return "ROLLED_BACK"
	case OutcomeFrozen:
		return "FROZEN"
	case OutcomeFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
