package playback

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundbed/segue/pkg/audio"
	"github.com/soundbed/segue/pkg/crossfade"
	"github.com/soundbed/segue/pkg/track"
)

type engineFixture struct {
	e      *Engine
	laneA  *audio.MockChannel
	laneB  *audio.MockChannel
	loader *audio.MockLoader
}

// newFixture builds an engine over mock lanes with durations shrunk to
// keep the suite fast. mutate tweaks the config before construction.
func newFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()
	cfg := Config{
		TransitionDuration: 400 * time.Millisecond,
		FadeOutDuration:    80 * time.Millisecond,
		Crossfade: crossfade.Config{
			RollbackDuration:    60 * time.Millisecond,
			QuickFinishDuration: 120 * time.Millisecond,
			SettleDelay:         60 * time.Millisecond,
			SyncLead:            10 * time.Millisecond,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	clock := audio.NewMockClock()
	laneA := audio.NewMockChannel(clock)
	laneB := audio.NewMockChannel(clock)
	loader := audio.NewMockLoader()
	loader.Add(trackA, 30*time.Second)
	loader.Add(trackB, 30*time.Second)
	loader.Add(trackC, 30*time.Second)

	e, err := NewEngine(cfg, laneA, laneB, loader)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return &engineFixture{e: e, laneA: laneA, laneB: laneB, loader: loader}
}

func (f *engineFixture) waitKind(t *testing.T, kind Kind) State {
	t.Helper()
	var got State
	require.Eventually(t, func() bool {
		got = f.e.State()
		return got.Kind == kind
	}, 8*time.Second, 2*time.Millisecond, "waiting for %s", kind)
	return got
}

func (f *engineFixture) waitPlaying(t *testing.T, tr track.Track) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := f.e.State()
		return st.Kind == KindPlaying && st.Track.Same(tr)
	}, 8*time.Second, 2*time.Millisecond, "waiting for Playing(%s)", tr)
}

func (f *engineFixture) waitProgress(t *testing.T, min float64) State {
	t.Helper()
	var got State
	require.Eventually(t, func() bool {
		got = f.e.State()
		return got.Kind == KindTransitioning && got.Progress >= min
	}, 8*time.Second, 2*time.Millisecond, "waiting for progress %.2f", min)
	return got
}

// collectUntil reads engine events until pred matches, returning
// everything read including the matching event.
func collectUntil(t *testing.T, e *Engine, pred func(Event) bool) []Event {
	t.Helper()
	deadline := time.After(8 * time.Second)
	var evs []Event
	for {
		select {
		case ev, ok := <-e.Events():
			require.True(t, ok, "event channel closed early")
			evs = append(evs, ev)
			if pred(ev) {
				return evs
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event, saw %d", len(evs))
		}
	}
}

func byType(et EventType) func(Event) bool {
	return func(ev Event) bool { return ev.Type == et }
}

func byStateKind(kind Kind) func(Event) bool {
	return func(ev Event) bool { return ev.Type == StateChanged && ev.State.Kind == kind }
}

func TestEngine_StartsIdle(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, KindIdle, f.e.State().Kind)
	assert.NotNil(t, f.e.Events())
}

func TestEngine_PlayColdStart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)

	assert.True(t, f.laneA.IsPlaying())
	assert.InDelta(t, 1.0, f.laneA.Gain(), 1e-9)
	assert.False(t, f.laneB.IsPlaying())
}

func TestEngine_PlaySameTrackIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)

	require.NoError(t, f.e.Play(ctx, trackA))
	st := f.e.State()
	assert.Equal(t, KindPlaying, st.Kind)
	assert.True(t, st.Track.Same(trackA))
}

func TestEngine_PlayOtherTrackCrossfades(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)

	require.NoError(t, f.e.Play(ctx, trackB))
	f.waitPlaying(t, trackB)

	assert.True(t, f.laneB.IsPlaying())
	assert.True(t, f.laneA.IsStopped())
}

func TestEngine_PlayUnknownTrackFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, track.Track{ID: "ghost", Title: "Ghost"}))
	st := f.waitKind(t, KindFailed)
	assert.Error(t, st.Err)
	assert.False(t, st.Recoverable)

	// Play from Failed is the retry edge.
	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
}

func TestEngine_TransitionCommitsAndFlipsLanes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)

	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	f.waitPlaying(t, trackB)
	assert.True(t, f.laneB.IsPlaying())
	assert.InDelta(t, 1.0, f.laneB.Gain(), 1e-9)
	assert.True(t, f.laneA.IsStopped())
	assert.InDelta(t, 1.0, f.laneA.Gain(), 1e-9, "outgoing lane rests at unity gain")

	// The lanes alternate on the next transition.
	require.NoError(t, f.e.TransitionTo(ctx, trackC))
	f.waitPlaying(t, trackC)
	assert.True(t, f.laneA.IsPlaying())
	assert.True(t, f.laneB.IsStopped())
}

func TestEngine_TransitionEventsOrdered(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.TransitionTo(ctx, trackB))

	evs := collectUntil(t, f.e, byType(TransitionCommitted))
	committed := evs[len(evs)-1]
	assert.True(t, committed.To.Same(trackB))
	assert.InDelta(t, 1.0, committed.Progress, 1e-9)

	last := -1.0
	count := 0
	for _, ev := range evs {
		if ev.Type != TransitionProgress || ev.TransitionID != committed.TransitionID {
			continue
		}
		count++
		assert.Greater(t, ev.Progress, last, "progress must be strictly increasing")
		assert.Equal(t, ev.Progress >= 0.5, ev.QuickFinishEligible)
		last = ev.Progress
	}
	assert.Greater(t, count, 3, "expected a stream of progress events")

	// Nothing follows the terminal event for this transition.
	select {
	case ev, ok := <-f.e.Events():
		if ok {
			assert.NotEqual(t, TransitionProgress, ev.Type)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngine_PauseResumeRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	f.laneA.SetPosition(5 * time.Second)

	require.NoError(t, f.e.Pause(ctx))
	st := f.e.State()
	assert.Equal(t, KindPaused, st.Kind)
	assert.True(t, st.Track.Same(trackA))
	assert.Equal(t, 5*time.Second, st.Position)
	assert.True(t, f.laneA.IsPaused())

	// Pausing a paused player changes nothing.
	require.NoError(t, f.e.Pause(ctx))
	assert.Equal(t, KindPaused, f.e.State().Kind)

	require.NoError(t, f.e.Resume(ctx))
	f.waitPlaying(t, trackA)
	assert.True(t, f.laneA.IsPlaying())

	// Resuming a playing player changes nothing.
	require.NoError(t, f.e.Resume(ctx))
	assert.Equal(t, KindPlaying, f.e.State().Kind)
}

func TestEngine_ControlsRequireCompatibleState(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	err := f.e.Pause(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = f.e.Resume(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = f.e.TransitionTo(ctx, trackB)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	// Stop from Idle is a harmless no-op.
	require.NoError(t, f.e.Stop(ctx))
	assert.Equal(t, KindIdle, f.e.State().Kind)
}

func TestEngine_TransitionToCurrentTrackRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)

	err := f.e.TransitionTo(ctx, trackA)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTrackMismatch))
	assert.Equal(t, KindPlaying, f.e.State().Kind)
}

func TestEngine_PauseEarlyTransitionContinuesFromProgress(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.TransitionDuration = time.Second
	})
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	f.waitProgress(t, 0.15)

	require.NoError(t, f.e.Pause(ctx))
	st := f.e.State()
	require.Equal(t, KindTransitionPaused, st.Kind)
	assert.Equal(t, crossfade.ContinueFromProgress, st.Strategy)
	assert.Greater(t, st.Progress, 0.0)
	assert.Less(t, st.Progress, 0.5)
	require.NotNil(t, st.Snapshot)
	assert.True(t, st.From.Same(trackA))
	assert.True(t, st.To.Same(trackB))
	assert.True(t, f.laneA.IsPaused())
	assert.True(t, f.laneB.IsPaused())

	evs := collectUntil(t, f.e, byType(TransitionFrozen))
	frozen := evs[len(evs)-1]
	assert.False(t, frozen.QuickFinishEligible)

	// Resuming before the midpoint replays the remaining portion at
	// full length rather than quick-finishing.
	begun := time.Now()
	require.NoError(t, f.e.Resume(ctx))
	f.waitPlaying(t, trackB)
	elapsed := time.Since(begun)
	assert.Greater(t, elapsed, 300*time.Millisecond, "resume should continue the fade, not quick finish")
	assert.Less(t, elapsed, 3*time.Second)
	assert.True(t, f.laneB.IsPlaying())
	assert.True(t, f.laneA.IsStopped())
}

func TestEngine_PauseLateTransitionQuickFinishes(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.TransitionDuration = 3 * time.Second
	})
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	f.waitProgress(t, 0.55)

	require.NoError(t, f.e.Pause(ctx))
	st := f.e.State()
	require.Equal(t, KindTransitionPaused, st.Kind)
	assert.Equal(t, crossfade.QuickFinish, st.Strategy)
	assert.GreaterOrEqual(t, st.Progress, 0.5)

	// Past the midpoint the fade finishes in the short fixed window,
	// not the remaining fraction of the full duration.
	begun := time.Now()
	require.NoError(t, f.e.Resume(ctx))
	f.waitPlaying(t, trackB)
	assert.Less(t, time.Since(begun), 700*time.Millisecond, "expected quick finish")
	assert.True(t, f.laneB.IsPlaying())
	assert.True(t, f.laneA.IsStopped())
}

func TestEngine_StaleSnapshotForcesQuickFinish(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.TransitionDuration = 2 * time.Second
		c.StalenessThreshold = 50 * time.Millisecond
	})
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	f.waitProgress(t, 0.1)

	require.NoError(t, f.e.Pause(ctx))
	st := f.e.State()
	require.Equal(t, KindTransitionPaused, st.Kind)
	require.Equal(t, crossfade.ContinueFromProgress, st.Strategy, "early freeze picks continue")

	time.Sleep(120 * time.Millisecond)

	// The snapshot aged past the threshold, so the resume overrides the
	// recorded strategy. Continuing would take well over a second.
	begun := time.Now()
	require.NoError(t, f.e.Resume(ctx))
	f.waitPlaying(t, trackB)
	assert.Less(t, time.Since(begun), 600*time.Millisecond, "stale snapshot must quick finish")
}

func TestEngine_InterruptedTransitionRollsBackThenRetries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	f.waitProgress(t, 0.1)

	// Second target mid-fade: roll back, settle, then fade to C.
	require.NoError(t, f.e.TransitionTo(ctx, trackC))
	f.waitPlaying(t, trackC)
	assert.True(t, f.laneB.IsPlaying(), "retry reuses the freed lane")
	assert.True(t, f.laneA.IsStopped())

	evs := collectUntil(t, f.e, byType(TransitionCommitted))
	rolledBack, committed := -1, -1
	for i, ev := range evs {
		switch ev.Type {
		case TransitionRolledBack:
			rolledBack = i
			assert.True(t, ev.To.Same(trackB))
		case TransitionCommitted:
			committed = i
			assert.True(t, ev.To.Same(trackC))
		}
	}
	require.GreaterOrEqual(t, rolledBack, 0, "abandoned fade must publish its rollback")
	require.Greater(t, committed, rolledBack, "rollback precedes the retried commit")
	assert.NotEqual(t, evs[rolledBack].TransitionID, evs[committed].TransitionID)
}

func TestEngine_RepeatTargetMidTransitionIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	f.waitProgress(t, 0.1)

	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	f.waitPlaying(t, trackB)

	evs := collectUntil(t, f.e, byType(TransitionCommitted))
	for _, ev := range evs {
		assert.NotEqual(t, TransitionRolledBack, ev.Type, "repeated target must not interrupt the fade")
	}
}

func TestEngine_PauseDuringSettleCancelsRetry(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.TransitionDuration = 2 * time.Second
		c.Crossfade.SettleDelay = 250 * time.Millisecond
	})
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	f.waitProgress(t, 0.05)
	require.NoError(t, f.e.TransitionTo(ctx, trackC))

	// Rollback lands back on A while the retry waits out the settle
	// delay. Pausing inside that window must cancel the retry.
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.Pause(ctx))
	require.Equal(t, KindPaused, f.e.State().Kind)

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, KindPaused, f.e.State().Kind, "settle timer must not fire into a pause")

	require.NoError(t, f.e.Resume(ctx))
	f.waitPlaying(t, trackA)
	time.Sleep(300 * time.Millisecond)
	st := f.e.State()
	assert.Equal(t, KindPlaying, st.Kind)
	assert.True(t, st.Track.Same(trackA), "cancelled retry must not start later")
	assert.False(t, f.laneB.IsPlaying())
}

func TestEngine_StopFadesOutThenFinishes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.Stop(ctx))

	evs := collectUntil(t, f.e, byStateKind(KindFinished))
	sawFade := false
	for _, ev := range evs {
		if ev.Type == StateChanged && ev.State.Kind == KindFadingOut {
			sawFade = true
		}
	}
	assert.True(t, sawFade, "stop from playing passes through the terminal fade")
	assert.True(t, f.laneA.IsStopped())
	assert.InDelta(t, 1.0, f.laneA.Gain(), 1e-9)

	// Finished supports starting the next track.
	require.NoError(t, f.e.Play(ctx, trackB))
	f.waitPlaying(t, trackB)
}

func TestEngine_StopDuringTransitionRollsBackThenFinishes(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.TransitionDuration = 2 * time.Second
	})
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	f.waitProgress(t, 0.1)

	require.NoError(t, f.e.Stop(ctx))
	f.waitKind(t, KindFinished)
	assert.True(t, f.laneA.IsStopped())
	assert.True(t, f.laneB.IsStopped())

	evs := collectUntil(t, f.e, byStateKind(KindFinished))
	rolledBack, fading := -1, -1
	for i, ev := range evs {
		if ev.Type == TransitionRolledBack {
			rolledBack = i
		}
		if ev.Type == StateChanged && ev.State.Kind == KindFadingOut {
			fading = i
		}
	}
	require.GreaterOrEqual(t, rolledBack, 0)
	require.Greater(t, fading, rolledBack, "fade out starts only after the rollback lands")
}

func TestEngine_StopWhileSuspendedIsImmediate(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.TransitionDuration = 2 * time.Second
	})
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.Pause(ctx))
	require.NoError(t, f.e.Stop(ctx))
	assert.Equal(t, KindIdle, f.e.State().Kind)
	assert.True(t, f.laneA.IsStopped())

	// Same from a frozen transition: the snapshot is discarded.
	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	f.waitProgress(t, 0.05)
	require.NoError(t, f.e.Pause(ctx))
	require.Equal(t, KindTransitionPaused, f.e.State().Kind)

	require.NoError(t, f.e.Stop(ctx))
	assert.Equal(t, KindIdle, f.e.State().Kind)
	assert.True(t, f.laneA.IsStopped())
	assert.True(t, f.laneB.IsStopped())
}

func TestEngine_StopDuringPreparingAborts(t *testing.T) {
	f := newFixture(t, nil)
	f.loader.Delay = 60 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	require.Equal(t, KindPreparing, f.e.State().Kind)

	require.NoError(t, f.e.Stop(ctx))
	assert.Equal(t, KindIdle, f.e.State().Kind)

	// The in-flight load must land without effect.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, KindIdle, f.e.State().Kind)
	assert.False(t, f.laneA.IsPlaying())
}

func TestEngine_PauseDuringTransitionPrepKeepsCurrentTrack(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)

	f.loader.Delay = 60 * time.Millisecond
	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	require.Equal(t, KindPreparingTransition, f.e.State().Kind)

	require.NoError(t, f.e.Pause(ctx))
	st := f.e.State()
	assert.Equal(t, KindPaused, st.Kind)
	assert.True(t, st.Track.Same(trackA))
	assert.True(t, f.laneA.IsPaused())

	// The abandoned prepare must not spring back to life.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, KindPaused, f.e.State().Kind)
	assert.False(t, f.laneB.IsPlaying())

	require.NoError(t, f.e.Resume(ctx))
	f.waitPlaying(t, trackA)
}

func TestEngine_ResetClearsFailed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, track.Track{ID: "ghost", Title: "Ghost"}))
	f.waitKind(t, KindFailed)

	require.NoError(t, f.e.Reset(ctx))
	assert.Equal(t, KindIdle, f.e.State().Kind)

	// Reset is idempotent from Idle, rejected elsewhere.
	require.NoError(t, f.e.Reset(ctx))
	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	err := f.e.Reset(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestEngine_TrackEndsIntoFinished(t *testing.T) {
	f := newFixture(t, nil)
	short := track.Track{ID: "sting", Title: "Sting", Location: "sting.wav"}
	f.loader.Add(short, 150*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, short))
	f.waitKind(t, KindFinished)
	assert.True(t, f.laneA.IsStopped())
}

func TestEngine_LoopingTrackNeverFinishes(t *testing.T) {
	f := newFixture(t, nil)
	loop := track.Track{ID: "bed", Title: "Bed", Location: "bed.wav", Loop: true}
	f.loader.Add(loop, 100*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, loop))
	f.waitPlaying(t, loop)

	time.Sleep(300 * time.Millisecond)
	st := f.e.State()
	assert.Equal(t, KindPlaying, st.Kind)
	assert.True(t, st.Track.Same(loop))
	assert.True(t, f.laneA.IsPlaying())
}

func TestEngine_TransitionPrepFailureFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)

	f.loader.ResolveErr = errors.New("catalog offline")
	require.NoError(t, f.e.TransitionTo(ctx, trackB))

	st := f.waitKind(t, KindFailed)
	assert.ErrorContains(t, st.Err, "failed to resolve")
	assert.True(t, f.laneA.IsStopped())
	assert.True(t, f.laneB.IsStopped())
}

func TestEngine_ScheduleFailureDuringTransitionFails(t *testing.T) {
	f := newFixture(t, nil)
	f.laneB.ScheduleErr = errors.New("device busy")
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.TransitionTo(ctx, trackB))

	st := f.waitKind(t, KindFailed)
	assert.True(t, errors.Is(st.Err, crossfade.ErrScheduling), "got %v", st.Err)
	assert.True(t, st.Recoverable)
	assert.True(t, f.laneA.IsStopped())
	assert.True(t, f.laneB.IsStopped())
}

func TestEngine_GainFailureMidTransitionFails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)

	f.laneA.GainErr = errors.New("mixer detached")
	require.NoError(t, f.e.TransitionTo(ctx, trackB))

	st := f.waitKind(t, KindFailed)
	assert.True(t, errors.Is(st.Err, crossfade.ErrScheduling), "got %v", st.Err)
	assert.True(t, st.Recoverable)
	assert.True(t, f.laneB.IsStopped())
}

func TestEngine_CloseRejectsFurtherOps(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)

	require.NoError(t, f.e.Close())
	require.NoError(t, f.e.Close())

	err := f.e.Play(ctx, trackB)
	assert.True(t, errors.Is(err, ErrEngineClosed))
	err = f.e.Pause(ctx)
	assert.True(t, errors.Is(err, ErrEngineClosed))

	require.Eventually(t, func() bool {
		_, ok := <-f.e.Events()
		return !ok
	}, 2*time.Second, 2*time.Millisecond, "event channel must close")
}

func TestEngine_CloseMidTransitionReturnsPromptly(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.TransitionDuration = 5 * time.Second
	})
	ctx := context.Background()

	require.NoError(t, f.e.Play(ctx, trackA))
	f.waitPlaying(t, trackA)
	require.NoError(t, f.e.TransitionTo(ctx, trackB))
	f.waitProgress(t, 0.1)

	begun := time.Now()
	require.NoError(t, f.e.Close())
	assert.Less(t, time.Since(begun), 2*time.Second, "close must not wait out the fade")
	assert.True(t, f.laneA.IsStopped())
	assert.True(t, f.laneB.IsStopped())
}
