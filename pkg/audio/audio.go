// Package audio defines the channel control boundary between the
// playback core and the audio rendering backend.
package audio

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/soundbed/segue/pkg/track"
)

// Lane identifies one of the two physical channel slots the engine owns.
type Lane int

const (
	LaneA Lane = iota
	LaneB
)

// String returns the string representation of the lane.
func (l Lane) String() string {
	switch l {
	case LaneA:
		return "A"
	case LaneB:
		return "B"
	default:
		return "UNKNOWN"
	}
}

// Other returns the opposite lane.
func (l Lane) Other() Lane {
	if l == LaneA {
		return LaneB
	}
	return LaneA
}

// SyncClock is a reference clock shared by channels that render through
// the same output. Readings are monotonic within one process.
type SyncClock interface {
	// Now returns the current reading of the clock.
	Now() time.Duration
}

// SyncPoint is an instant on a reference clock at which a channel
// should begin rendering.
type SyncPoint struct {
	Clock SyncClock
	At    time.Duration
}

// Resource is a playable audio resource resolved by a Loader.
type Resource interface {
	// Duration returns the length of the decoded audio. Looping
	// resources report the length of one loop body.
	Duration() time.Duration
	// String returns a short description for logs.
	String() string
}

// Loader resolves track references into playable resources.
// Failures should be marked with MarkTransient when a retry could
// succeed (missing device, busy file) and left unmarked when it could
// not (missing file, undecodable data).
type Loader interface {
	Resolve(ctx context.Context, t track.Track) (Resource, error)
}

// Channel is one independently controllable audio playback path with
// its own gain and transport clock. Implementations are provided by the
// rendering backend; the core never touches raw audio buffers or
// decoder state.
//
// The engine serializes all calls onto one goroutine, so
// implementations only need to guard against their own render thread.
type Channel interface {
	// Load attaches a resource and returns its playable duration.
	Load(ctx context.Context, res Resource) (time.Duration, error)
	// ScheduleStart begins playback at the given sync point so that
	// two channels sharing a clock advance phase-aligned.
	ScheduleStart(at SyncPoint) error
	// SetGain applies a gain in [0,1].
	SetGain(gain float64) error
	// Gain returns the last applied gain.
	Gain() float64
	// Pause suspends the transport in place.
	Pause() error
	// Resume continues a paused transport.
	Resume() error
	// Stop halts the transport and releases the loaded resource.
	Stop() error
	// Position returns the current transport position.
	Position() time.Duration
	// Duration returns the loaded resource duration, 0 when empty.
	Duration() time.Duration
	// ReferenceClock returns the clock this channel renders against.
	ReferenceClock() SyncClock
}

// errTransient marks failures that a later retry may clear.
var errTransient = errors.New("transient audio failure")

// MarkTransient marks err as retryable. Backends classify their own
// failures; the core treats the classification as an opaque boolean.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errTransient)
}

// IsTransient reports whether err was marked retryable by the backend.
func IsTransient(err error) bool {
	return errors.Is(err, errTransient)
}
