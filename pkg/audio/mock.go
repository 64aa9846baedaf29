package audio

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/soundbed/segue/pkg/track"
)

// MockClock is a manually advanced SyncClock for tests.
type MockClock struct {
	mu  sync.Mutex
	now time.Duration
}

// NewMockClock creates a mock clock starting at zero.
func NewMockClock() *MockClock {
	return &MockClock{}
}

// Now returns the current reading of the clock.
func (c *MockClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// MockResource is an in-memory Resource for tests.
type MockResource struct {
	Ref string
	Dur time.Duration
}

func (r MockResource) Duration() time.Duration { return r.Dur }
func (r MockResource) String() string          { return r.Ref }

// MockChannel implements Channel without audio output. It records every
// applied gain and exposes error injection per method so tests can
// exercise failure paths.
type MockChannel struct {
	mu        sync.Mutex
	clock     *MockClock
	res       Resource
	duration  time.Duration
	gain      float64
	position  time.Duration
	playing   bool
	paused    bool
	gainLog   []float64
	scheduled *SyncPoint

	// Error injection for tests.
	LoadErr     error
	ScheduleErr error
	GainErr     error
	PauseErr    error
	ResumeErr   error
	StopErr     error
}

// NewMockChannel creates a mock channel rendering against the given
// clock; a nil clock gets a private one.
func NewMockChannel(clock *MockClock) *MockChannel {
	if clock == nil {
		clock = NewMockClock()
	}
	return &MockChannel{clock: clock}
}

// Load attaches a resource and returns its duration.
func (m *MockChannel) Load(ctx context.Context, res Resource) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m.LoadErr != nil {
		return 0, m.LoadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.res = res
	m.duration = res.Duration()
	m.position = 0
	m.playing = false
	m.paused = false
	return m.duration, nil
}

// ScheduleStart begins playback at the given sync point.
func (m *MockChannel) ScheduleStart(at SyncPoint) error {
	if m.ScheduleErr != nil {
		return m.ScheduleErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.res == nil {
		return errors.New("schedule start: no resource loaded")
	}
	point := at
	m.scheduled = &point
	m.playing = true
	m.paused = false
	return nil
}

// SetGain applies a gain in [0,1] and records it.
func (m *MockChannel) SetGain(gain float64) error {
	if m.GainErr != nil {
		return m.GainErr
	}
	if gain < 0 || gain > 1 {
		return errors.Newf("set gain: %v outside [0,1]", gain)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gain = gain
	m.gainLog = append(m.gainLog, gain)
	return nil
}

// Gain returns the last applied gain.
func (m *MockChannel) Gain() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gain
}

// Pause suspends the transport in place.
func (m *MockChannel) Pause() error {
	if m.PauseErr != nil {
		return m.PauseErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.playing {
		return errors.New("pause: channel not playing")
	}
	m.paused = true
	return nil
}

// Resume continues a paused transport.
func (m *MockChannel) Resume() error {
	if m.ResumeErr != nil {
		return m.ResumeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		return errors.New("resume: channel not paused")
	}
	m.paused = false
	return nil
}

// Stop halts the transport and releases the resource.
func (m *MockChannel) Stop() error {
	if m.StopErr != nil {
		return m.StopErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.res = nil
	m.duration = 0
	m.position = 0
	m.playing = false
	m.paused = false
	m.scheduled = nil
	return nil
}

// Position returns the current transport position.
func (m *MockChannel) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Duration returns the loaded resource duration.
func (m *MockChannel) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

// ReferenceClock returns the clock this channel renders against.
func (m *MockChannel) ReferenceClock() SyncClock {
	return m.clock
}

// AdvanceBy moves the transport position forward, clamped to the
// resource duration.
func (m *MockChannel) AdvanceBy(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position += d
	if m.duration > 0 && m.position > m.duration {
		m.position = m.duration
	}
}

// SetPosition forces the transport position for tests.
func (m *MockChannel) SetPosition(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = d
}

// IsPlaying reports whether the transport is running and not paused.
func (m *MockChannel) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing && !m.paused
}

// IsPaused reports whether the transport is suspended in place.
func (m *MockChannel) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing && m.paused
}

// IsStopped reports whether no resource is attached.
func (m *MockChannel) IsStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.res == nil
}

// ScheduledPoint returns the sync point passed to ScheduleStart, nil if
// the channel was never scheduled.
func (m *MockChannel) ScheduledPoint() *SyncPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduled
}

// GainHistory returns a copy of every gain applied in order.
func (m *MockChannel) GainHistory() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make([]float64, len(m.gainLog))
	copy(history, m.gainLog)
	return history
}

// MockLoader resolves tracks from an in-memory table.
type MockLoader struct {
	mu        sync.Mutex
	resources map[string]MockResource

	// ResolveErr fails every resolve when set.
	ResolveErr error
	// Delay simulates slow resource IO; Resolve honors ctx cancellation
	// while waiting.
	Delay time.Duration
}

// NewMockLoader creates an empty mock loader.
func NewMockLoader() *MockLoader {
	return &MockLoader{resources: make(map[string]MockResource)}
}

// Add registers a resource of the given duration for the track.
func (l *MockLoader) Add(t track.Track, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resources[t.ID] = MockResource{Ref: t.Location, Dur: d}
}

// Resolve returns the registered resource for the track.
func (l *MockLoader) Resolve(ctx context.Context, t track.Track) (Resource, error) {
	l.mu.Lock()
	delay := l.Delay
	resolveErr := l.ResolveErr
	res, ok := l.resources[t.ID]
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if resolveErr != nil {
		return nil, resolveErr
	}
	if !ok {
		return nil, errors.Newf("no resource for track %s", t.ID)
	}
	return res, nil
}
