// Package playback owns the authoritative player state and the engine
// that drives it. State is a closed tagged union validated against a
// static transition table; the engine serializes every mutation through
// one goroutine so callers never race on channel gains or the state
// cell.
package playback

import (
	"fmt"
	"time"

	"github.com/soundbed/segue/pkg/crossfade"
	"github.com/soundbed/segue/pkg/track"
)

// Kind tags the active State variant.
type Kind int

const (
	KindIdle Kind = iota
	KindPreparing
	KindPreparingTransition
	KindPlaying
	KindTransitioning
	KindPaused
	KindTransitionPaused
	KindFadingOut
	KindFinished
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "IDLE"
	case KindPreparing:
		return "PREPARING"
	case KindPreparingTransition:
		return "PREPARING_TRANSITION"
	case KindPlaying:
		return "PLAYING"
	case KindTransitioning:
		return "TRANSITIONING"
	case KindPaused:
		return "PAUSED"
	case KindTransitionPaused:
		return "TRANSITION_PAUSED"
	case KindFadingOut:
		return "FADING_OUT"
	case KindFinished:
		return "FINISHED"
	case KindFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// State is the playback state value: a tagged union with exactly one
// variant active, selected by Kind. Payload fields are meaningful only
// for the kinds that name them; derived booleans are computed here and
// never stored separately, so they cannot drift out of sync.
type State struct {
	Kind Kind

	// Track is the subject track for Preparing, Playing, Paused and
	// FadingOut.
	Track track.Track
	// From and To name both sides of a transition for
	// PreparingTransition, Transitioning and TransitionPaused.
	From track.Track
	To   track.Track

	// Progress and QuickFinishEligible describe a live or suspended
	// transition.
	Progress            float64
	QuickFinishEligible bool

	// Position is the suspended transport position for Paused.
	Position time.Duration

	// Strategy and Snapshot carry the restart context owned by
	// TransitionPaused. The snapshot is immutable once captured.
	Strategy crossfade.ResumeStrategy
	Snapshot *crossfade.Snapshot

	// FadeDuration is the target fade length for FadingOut.
	FadeDuration time.Duration

	// Err and Recoverable describe Failed.
	Err         error
	Recoverable bool
}

// Idle is the no-content state.
func Idle() State {
	return State{Kind: KindIdle}
}

// Preparing marks a track resource load in flight.
func Preparing(t track.Track) State {
	return State{Kind: KindPreparing, Track: t}
}

// PreparingTransition marks the next source loading on the inactive
// lane while the current track keeps playing.
func PreparingTransition(from, to track.Track) State {
	return State{Kind: KindPreparingTransition, From: from, To: to}
}

// Playing marks a single audible channel.
func Playing(t track.Track) State {
	return State{Kind: KindPlaying, Track: t}
}

// Transitioning marks both channels audible under a live crossfade.
func Transitioning(from, to track.Track, progress float64, eligible bool) State {
	return State{
		Kind:                KindTransitioning,
		From:                from,
		To:                  to,
		Progress:            progress,
		QuickFinishEligible: eligible,
	}
}

// Paused marks a single suspended channel.
func Paused(t track.Track, position time.Duration) State {
	return State{Kind: KindPaused, Track: t, Position: position}
}

// TransitionPaused marks both channels suspended mid-crossfade with the
// full restart context captured.
func TransitionPaused(from, to track.Track, progress float64, strategy crossfade.ResumeStrategy, snap crossfade.Snapshot) State {
	s := snap
	return State{
		Kind:     KindTransitionPaused,
		From:     from,
		To:       to,
		Progress: progress,
		Strategy: strategy,
		Snapshot: &s,
	}
}

// FadingOut marks the terminal fade before a stop.
func FadingOut(t track.Track, d time.Duration) State {
	return State{Kind: KindFadingOut, Track: t, FadeDuration: d}
}

// Finished is the terminal state after normal completion.
func Finished() State {
	return State{Kind: KindFinished}
}

// Failed is the terminal error state. Recoverable tells the caller
// whether a retry is worth attempting.
func Failed(err error, recoverable bool) State {
	return State{Kind: KindFailed, Err: err, Recoverable: recoverable}
}

// IsValid re-verifies the numeric and identity invariants of the
// active variant. Every Apply runs it, so an arithmetic bug in the
// fade driver can never reach the state cell.
func (s State) IsValid() bool {
	switch s.Kind {
	case KindIdle, KindFinished:
		return true
	case KindPreparing, KindPlaying:
		return !s.Track.IsZero()
	case KindPaused:
		return !s.Track.IsZero() && s.Position >= 0
	case KindPreparingTransition:
		return distinctPair(s.From, s.To)
	case KindTransitioning:
		return distinctPair(s.From, s.To) && inUnitRange(s.Progress)
	case KindTransitionPaused:
		return distinctPair(s.From, s.To) && inUnitRange(s.Progress) &&
			s.Snapshot != nil && snapshotSane(*s.Snapshot)
	case KindFadingOut:
		return !s.Track.IsZero() && s.FadeDuration >= 0
	case KindFailed:
		return s.Err != nil
	default:
		return false
	}
}

// IsAudible reports whether any channel is producing sound.
func (s State) IsAudible() bool {
	switch s.Kind {
	case KindPlaying, KindTransitioning, KindFadingOut:
		return true
	default:
		return false
	}
}

// CanPause reports whether a pause request is meaningful now.
func (s State) CanPause() bool {
	switch s.Kind {
	case KindPlaying, KindTransitioning, KindPreparingTransition:
		return true
	default:
		return false
	}
}

// CanResume reports whether a resume request is meaningful now.
func (s State) CanResume() bool {
	switch s.Kind {
	case KindPaused, KindTransitionPaused:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether leaving this state requires an explicit
// reset or retry action.
func (s State) IsTerminal() bool {
	return s.Kind == KindFinished || s.Kind == KindFailed
}

func (s State) String() string {
	switch s.Kind {
	case KindPreparing:
		return fmt.Sprintf("Preparing(%s)", s.Track)
	case KindPreparingTransition:
		return fmt.Sprintf("PreparingTransition(%s -> %s)", s.From, s.To)
	case KindPlaying:
		return fmt.Sprintf("Playing(%s)", s.Track)
	case KindTransitioning:
		return fmt.Sprintf("Transitioning(%s -> %s, %.2f)", s.From, s.To, s.Progress)
	case KindPaused:
		return fmt.Sprintf("Paused(%s at %s)", s.Track, s.Position)
	case KindTransitionPaused:
		return fmt.Sprintf("TransitionPaused(%s -> %s, %.2f, %s)", s.From, s.To, s.Progress, s.Strategy)
	case KindFadingOut:
		return fmt.Sprintf("FadingOut(%s, %s)", s.Track, s.FadeDuration)
	case KindFailed:
		return fmt.Sprintf("Failed(%v, recoverable=%t)", s.Err, s.Recoverable)
	default:
		return s.Kind.String()
	}
}

func distinctPair(a, b track.Track) bool {
	return !a.IsZero() && !b.IsZero() && !a.Same(b)
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

// snapshotSane checks the value-level snapshot invariants. Clamping
// against actual channel durations happens at resume time, where the
// durations are known.
func snapshotSane(snap crossfade.Snapshot) bool {
	return inUnitRange(snap.OutgoingGain) && inUnitRange(snap.IncomingGain) &&
		snap.OutgoingPosition >= 0 && snap.IncomingPosition >= 0
}
