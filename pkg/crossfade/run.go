package crossfade

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/soundbed/segue/pkg/curve"
)

// eventBuffer sizes the progress event channel. Progress events are
// droppable; terminal outcomes travel through Done/Outcome instead so
// they are never lost.
const eventBuffer = 64

// Run is one in-flight transition. The drive goroutine is the only
// writer of both channels' gains for the lifetime of the run.
type Run struct {
	plan Plan
	cfg  Config

	events   chan Event
	done     chan struct{}
	cancelCh chan struct{}
	freezeCh chan struct{}

	cancelOnce sync.Once
	freezeOnce sync.Once

	mu       sync.Mutex
	progress float64
	outcome  Outcome
	err      error
	snapshot *Snapshot
}

func newRun(plan Plan, cfg Config) *Run {
	return &Run{
		plan:     plan,
		cfg:      cfg,
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
		freezeCh: make(chan struct{}),
	}
}

// Plan returns the transition plan this run executes.
func (r *Run) Plan() Plan {
	return r.plan
}

// Events returns the progress event stream. The channel is never
// closed; stop reading once Done is closed.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Done is closed once the run reaches a terminal outcome.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Outcome returns the terminal outcome, OutcomeNone while in flight.
func (r *Run) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Err returns the failure cause for OutcomeFailed runs.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Progress returns the last driven progress value.
func (r *Run) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// FrozenSnapshot returns the snapshot captured by a freeze.
func (r *Run) FrozenSnapshot() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil {
		return Snapshot{}, false
	}
	return *r.snapshot, true
}

// Cancel aborts the transition through the rollback path. Non-blocking;
// wait on Done for rollback completion.
func (r *Run) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// Freeze suspends the transition in place at the next step boundary and
// returns the captured snapshot. Blocks until the run settles; fails if
// the run reached a different terminal outcome first.
func (r *Run) Freeze() (Snapshot, error) {
	r.freezeOnce.Do(func() { close(r.freezeCh) })
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome != OutcomeFrozen || r.snapshot == nil {
		return Snapshot{}, errors.Newf("transition %s ended as %s before freeze", r.plan.ID, r.outcome)
	}
	return *r.snapshot, nil
}

// drive advances progress from start to 1 over the remaining fraction
// of the plan duration, applying curve gains at each step.
func (r *Run) drive(ctx context.Context, start float64) {
	remaining := time.Duration((1 - start) * float64(r.plan.Duration))
	if remaining <= 0 {
		r.commit()
		return
	}
	steps := stepCount(remaining)
	interval := remaining / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		if r.interrupted(ctx) {
			return
		}
		p := start + (1-start)*float64(i)/float64(steps)
		out, in := curve.Pair(r.plan.Curve, p)
		if err := r.applyGains(out, in); err != nil {
			r.failAndRestore(ctx, err)
			return
		}
		r.setProgress(p)
		r.emit(p)
		if i == steps {
			break
		}
		if r.interrupted(ctx) {
			return
		}
		if r.interruptibleSleep(ctx, interval) {
			return
		}
	}
	r.commit()
}

// driveQuickFinish fades from the captured gains straight to the
// incoming channel fully audible over the fixed quick finish duration,
// bypassing the rest of the original curve.
func (r *Run) driveQuickFinish(ctx context.Context, start, fromGain, toGain float64) {
	d := r.cfg.QuickFinishDuration
	steps := stepCount(d)
	interval := d / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		if r.interrupted(ctx) {
			return
		}
		t := float64(i) / float64(steps)
		out := fromGain * (1 - t)
		in := toGain + (1-toGain)*t
		if err := r.applyGains(out, in); err != nil {
			r.failAndRestore(ctx, err)
			return
		}
		p := start + (1-start)*t
		r.setProgress(p)
		r.emit(p)
		if i == steps {
			break
		}
		if r.interrupted(ctx) {
			return
		}
		if r.interruptibleSleep(ctx, interval) {
			return
		}
	}
	r.commit()
}

// interrupted services pending interrupts in priority order: freeze
// wins over cancel, cancel over context shutdown. Reports whether the
// run terminated.
func (r *Run) interrupted(ctx context.Context) bool {
	select {
	case <-r.freezeCh:
		r.freezeInPlace()
		return true
	default:
	}
	select {
	case <-r.cancelCh:
		r.rollback(ctx)
		return true
	default:
	}
	select {
	case <-ctx.Done():
		r.restoreImmediately(ctx.Err())
		return true
	default:
	}
	return false
}

// interruptibleSleep sleeps for one step interval, waking early on any
// interrupt. Reports whether the run terminated.
func (r *Run) interruptibleSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-r.freezeCh:
		r.freezeInPlace()
		return true
	case <-r.cancelCh:
		r.rollback(ctx)
		return true
	case <-ctx.Done():
		r.restoreImmediately(ctx.Err())
		return true
	}
}

// commit finishes a completed fade: the incoming channel is pinned at
// exactly full gain and becomes the active channel, the outgoing
// channel stops and rests at unity for its next use.
func (r *Run) commit() {
	if err := r.plan.To.SetGain(1); err != nil {
		zlog.Error().Msgf("failed to pin incoming gain at commit: %v", err)
	}
	if err := r.plan.From.Stop(); err != nil {
		zlog.Error().Msgf("failed to stop outgoing channel at commit: %v", err)
	}
	_ = r.plan.From.SetGain(1)
	r.setProgress(1)
	zlog.Info().
		Str("transition_id", r.plan.ID.String()).
		Str("to", r.plan.ToTrack.String()).
		Msg("transition committed")
	r.finish(OutcomeCommitted, nil)
}

// rollback restores the pre-transition single-active-channel state:
// a short fade from the current gains back to outgoing full, incoming
// silent, then the incoming channel stops. Runs to completion; its
// length is bounded by the rollback duration regardless of how far the
// original transition had progressed.
func (r *Run) rollback(ctx context.Context) {
	zlog.Info().
		Str("transition_id", r.plan.ID.String()).
		Float64("from_gain", r.plan.From.Gain()).
		Float64("to_gain", r.plan.To.Gain()).
		Msg("transition rolling back")
	r.restoreGainsGradually(ctx)
	r.finish(OutcomeRolledBack, nil)
}

// failAndRestore resolves a mid-drive backend failure through the same
// restore path as a rollback, then surfaces the failure.
func (r *Run) failAndRestore(ctx context.Context, err error) {
	zlog.Error().
		Str("transition_id", r.plan.ID.String()).
		Msgf("transition drive failed: %v", err)
	r.restoreGainsGradually(ctx)
	r.finish(OutcomeFailed, errors.Mark(err, ErrScheduling))
}

// restoreGainsGradually fades from the channels' current gains to
// (outgoing 1, incoming 0) over the rollback duration with a plain
// linear ramp, then stops the incoming channel. Gains are captured at
// entry, not assumed to be the original values.
func (r *Run) restoreGainsGradually(ctx context.Context) {
	fromGain := r.plan.From.Gain()
	toGain := r.plan.To.Gain()
	interval := r.cfg.RollbackDuration / rollbackSteps

	for i := 1; i <= rollbackSteps; i++ {
		if ctx.Err() != nil {
			break
		}
		t := float64(i) / rollbackSteps
		r.applyGainsLogged(fromGain+(1-fromGain)*t, toGain*(1-t))
		if i == rollbackSteps {
			break
		}
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	if err := r.plan.To.Stop(); err != nil {
		zlog.Error().Msgf("failed to stop incoming channel after rollback: %v", err)
	}
	_ = r.plan.To.SetGain(0)
	_ = r.plan.From.SetGain(1)
}

// restoreImmediately slams the rest state without fading. Only used on
// context shutdown, where smoothness no longer matters.
func (r *Run) restoreImmediately(cause error) {
	_ = r.plan.To.Stop()
	_ = r.plan.To.SetGain(0)
	_ = r.plan.From.SetGain(1)
	r.finish(OutcomeRolledBack, cause)
}

// freezeInPlace suspends both channels without fading. The half-faded
// gains are the snapshot, not something to restore.
func (r *Run) freezeInPlace() {
	if err := r.plan.From.Pause(); err != nil {
		zlog.Error().Msgf("failed to pause outgoing channel: %v", err)
	}
	if err := r.plan.To.Pause(); err != nil {
		zlog.Error().Msgf("failed to pause incoming channel: %v", err)
	}
	snap := Snapshot{
		OutgoingGain:     r.plan.From.Gain(),
		IncomingGain:     r.plan.To.Gain(),
		OutgoingPosition: r.plan.From.Position(),
		IncomingPosition: r.plan.To.Position(),
		ActiveLane:       r.plan.ActiveLane,
		Duration:         r.plan.Duration,
		Curve:            r.plan.Curve.Name(),
		CapturedAt:       time.Now(),
	}
	r.mu.Lock()
	r.snapshot = &snap
	r.mu.Unlock()
	zlog.Info().
		Str("transition_id", r.plan.ID.String()).
		Float64("out_gain", snap.OutgoingGain).
		Float64("in_gain", snap.IncomingGain).
		Msg("transition frozen")
	r.finish(OutcomeFrozen, nil)
}

func (r *Run) applyGains(out, in float64) error {
	if err := r.plan.From.SetGain(out); err != nil {
		return errors.Wrap(err, "failed to set outgoing gain")
	}
	if err := r.plan.To.SetGain(in); err != nil {
		return errors.Wrap(err, "failed to set incoming gain")
	}
	return nil
}

func (r *Run) applyGainsLogged(out, in float64) {
	if err := r.applyGains(out, in); err != nil {
		zlog.Error().
			Str("transition_id", r.plan.ID.String()).
			Msgf("rollback gain update failed: %v", err)
	}
}

func (r *Run) setProgress(p float64) {
	r.mu.Lock()
	r.progress = p
	r.mu.Unlock()
}

// emit publishes a progress event without ever blocking the drive
// loop; a lagging consumer loses intermediate events, never ordering.
func (r *Run) emit(p float64) {
	ev := Event{
		TransitionID:        r.plan.ID,
		FromTrack:           r.plan.FromTrack,
		ToTrack:             r.plan.ToTrack,
		Progress:            p,
		QuickFinishEligible: p >= r.cfg.QuickFinishThreshold,
	}
	select {
	case r.events <- ev:
	default:
	}
}

func (r *Run) finish(outcome Outcome, err error) {
	r.mu.Lock()
	r.outcome = outcome
	r.err = err
	r.mu.Unlock()
	close(r.done)
}
