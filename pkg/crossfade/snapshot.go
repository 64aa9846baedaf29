package crossfade

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/soundbed/segue/pkg/audio"
)

// ErrInvalidSnapshot marks resume aborts caused by a snapshot whose
// gains left the legal range. The snapshot must be discarded; the
// caller falls back to a cold restart of the target track.
var ErrInvalidSnapshot = errors.New("invalid transition snapshot")

// Snapshot is the immutable record taken at the instant a transition is
// suspended. It is created once per pause-during-transition, consumed
// once on resume, and discarded afterward.
type Snapshot struct {
	OutgoingGain     float64
	IncomingGain     float64
	OutgoingPosition time.Duration
	IncomingPosition time.Duration
	ActiveLane       audio.Lane
	Duration         time.Duration
	Curve            string
	CapturedAt       time.Time
}

// Validate re-checks a snapshot before resume against the channels'
// actual durations. Gains outside [0,1] abort the resume;
// positions are clamped into range and reported through the clamped
// flag, which callers log as a correction rather than an error.
func (s Snapshot) Validate(outDuration, inDuration time.Duration) (Snapshot, bool, error) {
	if s.OutgoingGain < 0 || s.OutgoingGain > 1 || s.IncomingGain < 0 || s.IncomingGain > 1 {
		return s, false, errors.Mark(
			errors.Newf("snapshot gains out of range: outgoing=%v incoming=%v", s.OutgoingGain, s.IncomingGain),
			ErrInvalidSnapshot)
	}

	fixed := s
	clamped := false
	if fixed.OutgoingPosition < 0 {
		fixed.OutgoingPosition = 0
		clamped = true
	}
	if outDuration > 0 && fixed.OutgoingPosition > outDuration {
		fixed.OutgoingPosition = outDuration
		clamped = true
	}
	if fixed.IncomingPosition < 0 {
		fixed.IncomingPosition = 0
		clamped = true
	}
	if inDuration > 0 && fixed.IncomingPosition > inDuration {
		fixed.IncomingPosition = inDuration
		clamped = true
	}
	return fixed, clamped, nil
}

// Stale reports whether the snapshot is older than the threshold. A
// stale snapshot still resumes, but with a forced QuickFinish, because
// a long suspension risks the audio session underneath having been
// reset by the operating environment.
func (s Snapshot) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.CapturedAt) > threshold
}

// ResumeStrategy selects how a suspended transition completes.
type ResumeStrategy int

const (
	// ContinueFromProgress drives the original curve from the captured
	// progress through to 1 over the remaining duration.
	ContinueFromProgress ResumeStrategy = iota
	// QuickFinish runs a fixed short fade from the captured gains
	// straight to the incoming channel fully audible.
	QuickFinish
)

// String returns the string representation of the strategy.
func (s ResumeStrategy) String() string {
	switch s {
	case ContinueFromProgress:
		return "CONTINUE_FROM_PROGRESS"
	case QuickFinish:
		return "QUICK_FINISH"
	default:
		return "UNKNOWN"
	}
}

// StrategyFor picks the strategy recorded at capture time: transitions
// suspended past the threshold quick-finish instead of replaying most
// of a fade that was already nearly done.
func StrategyFor(progress, threshold float64) ResumeStrategy {
	if threshold <= 0 {
		threshold = DefaultQuickFinishThreshold
	}
	if progress >= threshold {
		return QuickFinish
	}
	return ContinueFromProgress
}
