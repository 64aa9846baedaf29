package playback

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrInvalidTransition rejects state changes with no edge in the
// adjacency table, or whose target state fails validation. Always
// recoverable; the caller retries with a valid action.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrTrackMismatch rejects state changes whose tags are adjacent but
// whose payloads disagree on track identity.
var ErrTrackMismatch = errors.New("track identity mismatch")

// transitions is the static tag-level adjacency table. Any pair not
// listed is rejected. There is deliberately no Transitioning ->
// Transitioning edge: a new transition may not begin until the previous
// one committed or rolled back, and live progress updates go through
// AdvanceProgress rather than Apply.
var transitions = map[Kind][]Kind{
	KindIdle:                {KindPreparing},
	KindPreparing:           {KindPlaying, KindFailed, KindIdle},
	KindPlaying:             {KindPaused, KindPreparingTransition, KindTransitioning, KindFadingOut, KindFinished, KindFailed},
	KindPreparingTransition: {KindTransitioning, KindPaused, KindFadingOut},
	KindTransitioning:       {KindTransitionPaused, KindPlaying, KindFadingOut, KindFailed},
	KindPaused:              {KindPlaying, KindIdle},
	KindTransitionPaused:    {KindTransitioning, KindPlaying, KindIdle},
	KindFadingOut:           {KindFinished},
	KindFinished:            {KindPreparing},
	KindFailed:              {KindIdle, KindPreparing},
}

// Machine owns the single authoritative state cell. Only Apply writes
// it, and Apply commits only what it validated inside the same critical
// section; there is no path to commit an unvalidated state.
type Machine struct {
	mu      sync.RWMutex
	current State
}

// NewMachine starts in Idle.
func NewMachine() *Machine {
	return &Machine{current: Idle()}
}

// Current returns the state cell's value.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CanTransition reports whether the current state may change to next,
// committing nothing. A nil return means Apply would accept next right
// now.
func (m *Machine) CanTransition(next State) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return validate(m.current, next)
}

// Apply atomically validates and commits next. On rejection the cell is
// left unchanged and the error says why: ErrInvalidTransition for a
// missing edge or invalid target, ErrTrackMismatch for adjacent tags
// with inconsistent payloads.
func (m *Machine) Apply(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validate(m.current, next); err != nil {
		return err
	}
	m.current = next
	return nil
}

// AdvanceProgress refreshes the live Transitioning payload in place.
// Progress may only grow and must stay in range. This is a payload
// update of the current variant, not a table edge.
func (m *Machine) AdvanceProgress(progress float64, eligible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.Kind != KindTransitioning {
		return errors.Mark(
			errors.Newf("cannot advance progress in %s", m.current.Kind),
			ErrInvalidTransition)
	}
	if progress < m.current.Progress {
		return errors.Newf("progress may not regress: %.4f < %.4f", progress, m.current.Progress)
	}
	next := m.current
	next.Progress = progress
	next.QuickFinishEligible = eligible
	if !next.IsValid() {
		return errors.Newf("progress %v out of range", progress)
	}
	m.current = next
	return nil
}

func validate(from, to State) error {
	if !to.IsValid() {
		return errors.Mark(
			errors.Newf("refusing invalid %s state", to.Kind),
			ErrInvalidTransition)
	}
	if !adjacent(from.Kind, to.Kind) {
		return errors.Mark(
			errors.Newf("no transition %s -> %s", from.Kind, to.Kind),
			ErrInvalidTransition)
	}
	return checkIdentity(from, to)
}

func adjacent(from, to Kind) bool {
	for _, k := range transitions[from] {
		if k == to {
			return true
		}
	}
	return false
}

// checkIdentity enforces payload consistency on the edges that carry
// track identity across the change. A Transitioning state may land on
// Playing with either its target (commit) or its origin (rollback).
func checkIdentity(from, to State) error {
	mismatch := func(format string, args ...any) error {
		return errors.Mark(errors.Newf(format, args...), ErrTrackMismatch)
	}
	switch from.Kind {
	case KindPlaying:
		switch to.Kind {
		case KindPaused, KindFadingOut:
			if !to.Track.Same(from.Track) {
				return mismatch("expected %s, got %s", from.Track, to.Track)
			}
		case KindPreparingTransition, KindTransitioning:
			if !to.From.Same(from.Track) {
				return mismatch("transition must leave from %s, got %s", from.Track, to.From)
			}
		}
	case KindPreparingTransition:
		switch to.Kind {
		case KindTransitioning:
			if !to.From.Same(from.From) || !to.To.Same(from.To) {
				return mismatch("transition pair %s -> %s became %s -> %s",
					from.From, from.To, to.From, to.To)
			}
		case KindPaused, KindFadingOut:
			if !to.Track.Same(from.From) {
				return mismatch("expected %s, got %s", from.From, to.Track)
			}
		}
	case KindTransitioning:
		switch to.Kind {
		case KindTransitionPaused:
			if !to.From.Same(from.From) || !to.To.Same(from.To) {
				return mismatch("suspended pair %s -> %s became %s -> %s",
					from.From, from.To, to.From, to.To)
			}
		case KindPlaying:
			if !to.Track.Same(from.To) && !to.Track.Same(from.From) {
				return mismatch("must land on %s or %s, got %s", from.To, from.From, to.Track)
			}
		case KindFadingOut:
			if !to.Track.Same(from.From) && !to.Track.Same(from.To) {
				return mismatch("must fade out %s or %s, got %s", from.From, from.To, to.Track)
			}
		}
	case KindPaused:
		if to.Kind == KindPlaying && !to.Track.Same(from.Track) {
			return mismatch("resume must stay on %s, got %s", from.Track, to.Track)
		}
	case KindTransitionPaused:
		switch to.Kind {
		case KindTransitioning:
			if !to.From.Same(from.From) || !to.To.Same(from.To) {
				return mismatch("resumed pair %s -> %s became %s -> %s",
					from.From, from.To, to.From, to.To)
			}
		case KindPlaying:
			if !to.Track.Same(from.To) && !to.Track.Same(from.From) {
				return mismatch("must land on %s or %s, got %s", from.To, from.From, to.Track)
			}
		}
	}
	return nil
}
