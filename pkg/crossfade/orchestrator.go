// Package crossfade drives dual-channel fades with transactional
// begin/commit/rollback semantics. At most one run is active at a time;
// the playback engine enforces that ordering through its state machine.
package crossfade

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/soundbed/segue/pkg/audio"
	"github.com/soundbed/segue/pkg/curve"
	"github.com/soundbed/segue/pkg/track"
)

// Defaults for zero-valued Config fields.
const (
	DefaultRollbackDuration     = 500 * time.Millisecond
	DefaultQuickFinishDuration  = time.Second
	DefaultSyncLead             = 150 * time.Millisecond
	DefaultQuickFinishThreshold = 0.5
)

// One step per target interval, bounded so long ambient fades stay
// cheap and short fades stay dense.
const (
	targetStepInterval = 50 * time.Millisecond
	minSteps           = 24
	maxSteps           = 240
	rollbackSteps      = 20
)

// ErrScheduling marks begin or resume failures where the audio backend
// rejected transport control. The rollback path has already restored
// the single-active-channel invariant, so these are always recoverable.
var ErrScheduling = errors.New("channel scheduling failed")

// Config tunes the orchestrator. Zero values fall back to defaults.
type Config struct {
	// RollbackDuration bounds how long an interrupted transition may
	// take to restore the single-active-channel invariant. Independent
	// of the original transition duration.
	RollbackDuration time.Duration
	// QuickFinishDuration is the fixed fade length used when resuming
	// a transition past its midpoint.
	QuickFinishDuration time.Duration
	// SettleDelay separates a completed rollback from the retry that
	// follows a double interrupt. Zero means RollbackDuration.
	SettleDelay time.Duration
	// SyncLead is how far ahead of the outgoing channel's reference
	// clock the incoming channel is scheduled to start.
	SyncLead time.Duration
	// QuickFinishThreshold is the progress at or past which quick
	// finish becomes the resume strategy.
	QuickFinishThreshold float64
}

func (c Config) withDefaults() Config {
	if c.RollbackDuration <= 0 {
		c.RollbackDuration = DefaultRollbackDuration
	}
	if c.QuickFinishDuration <= 0 {
		c.QuickFinishDuration = DefaultQuickFinishDuration
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = c.RollbackDuration
	}
	if c.SyncLead <= 0 {
		c.SyncLead = DefaultSyncLead
	}
	if c.QuickFinishThreshold <= 0 {
		c.QuickFinishThreshold = DefaultQuickFinishThreshold
	}
	return c
}

// Plan describes one transition. Channel handles and configuration are
// passed in per call; runs never hold references back into engine state.
type Plan struct {
	ID         uuid.UUID
	From       audio.Channel
	To         audio.Channel
	FromTrack  track.Track
	ToTrack    track.Track
	Duration   time.Duration
	Curve      curve.Curve
	ActiveLane audio.Lane
}

// Orchestrator builds transition runs and single-channel fades.
type Orchestrator struct {
	cfg Config
}

// New creates an orchestrator with the given config.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration after defaults.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Start begins a fresh transition: the incoming channel is muted and
// scheduled to start phase-aligned against the outgoing channel's
// reference clock, then the drive goroutine fades between them.
//
// A scheduling failure restores the single-active-channel invariant
// before returning; the error is marked with ErrScheduling.
func (o *Orchestrator) Start(ctx context.Context, plan Plan) (*Run, error) {
	plan = normalizePlan(plan)

	if err := plan.To.SetGain(0); err != nil {
		o.abortBegin(plan)
		return nil, errors.Mark(errors.Wrap(err, "failed to mute incoming channel"), ErrScheduling)
	}
	clock := plan.From.ReferenceClock()
	at := audio.SyncPoint{Clock: clock, At: clock.Now() + o.cfg.SyncLead}
	if err := plan.To.ScheduleStart(at); err != nil {
		o.abortBegin(plan)
		zlog.Error().Str("transition_id", plan.ID.String()).Msgf("schedule start rejected: %v", err)
		return nil, errors.Mark(errors.Wrap(err, "failed to schedule incoming channel"), ErrScheduling)
	}

	zlog.Info().
		Str("transition_id", plan.ID.String()).
		Str("from", plan.FromTrack.String()).
		Str("to", plan.ToTrack.String()).
		Dur("duration", plan.Duration).
		Str("curve", plan.Curve.Name()).
		Msg("transition started")

	r := newRun(plan, o.cfg)
	go r.drive(ctx, 0)
	return r, nil
}

// Resume restarts a suspended transition from its snapshot. Gains are
// restored to the captured values and both channels resume in place;
// the strategy picks the drive loop that completes the fade.
func (o *Orchestrator) Resume(ctx context.Context, plan Plan, snap Snapshot, strategy ResumeStrategy, progress float64) (*Run, error) {
	plan = normalizePlan(plan)

	if err := o.restoreSuspended(plan, snap); err != nil {
		return nil, err
	}

	zlog.Info().
		Str("transition_id", plan.ID.String()).
		Str("strategy", strategy.String()).
		Float64("progress", progress).
		Msg("transition resumed")

	r := newRun(plan, o.cfg)
	if strategy == QuickFinish {
		go r.driveQuickFinish(ctx, progress, snap.OutgoingGain, snap.IncomingGain)
	} else {
		go r.drive(ctx, progress)
	}
	return r, nil
}

// restoreSuspended reapplies the captured gains and resumes both
// channels. Any backend rejection is unwound back to a single active
// channel before the error is surfaced.
func (o *Orchestrator) restoreSuspended(plan Plan, snap Snapshot) error {
	fail := func(err error, msg string) error {
		_ = plan.To.Stop()
		_ = plan.To.SetGain(0)
		_ = plan.From.SetGain(1)
		_ = plan.From.Resume()
		return errors.Mark(errors.Wrap(err, msg), ErrScheduling)
	}

	if err := plan.From.SetGain(snap.OutgoingGain); err != nil {
		return fail(err, "failed to restore outgoing gain")
	}
	if err := plan.To.SetGain(snap.IncomingGain); err != nil {
		return fail(err, "failed to restore incoming gain")
	}
	if err := plan.From.Resume(); err != nil {
		return fail(err, "failed to resume outgoing channel")
	}
	if err := plan.To.Resume(); err != nil {
		return fail(err, "failed to resume incoming channel")
	}
	return nil
}

// FadeOut drives a single channel's gain to silence over d and stops
// it. Used for terminal fades, not crossfades; blocking, cancellable
// through ctx (cancellation stops the channel immediately).
func (o *Orchestrator) FadeOut(ctx context.Context, ch audio.Channel, d time.Duration, c curve.Curve) error {
	if c == nil {
		c = curve.Smoothstep{}
	}
	start := ch.Gain()
	if d > 0 {
		steps := stepCount(d)
		interval := d / time.Duration(steps)
		for i := 1; i <= steps; i++ {
			if err := ctx.Err(); err != nil {
				_ = ch.Stop()
				_ = ch.SetGain(1)
				return err
			}
			t := float64(i) / float64(steps)
			if err := ch.SetGain(start * c.Backward(t)); err != nil {
				zlog.Error().Msgf("fade out gain update failed: %v", err)
			}
			if i == steps {
				break
			}
			timer := time.NewTimer(interval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				_ = ch.Stop()
				_ = ch.SetGain(1)
				return ctx.Err()
			}
		}
	}
	if err := ch.Stop(); err != nil {
		return errors.Wrap(err, "failed to stop channel after fade out")
	}
	// Gain rests at unity so the next cold start is audible.
	_ = ch.SetGain(1)
	return nil
}

// abortBegin unwinds a failed begin: nothing has faded yet, so the
// rollback degenerates to stopping the incoming channel and pinning the
// outgoing channel at full gain.
func (o *Orchestrator) abortBegin(plan Plan) {
	_ = plan.To.Stop()
	_ = plan.To.SetGain(0)
	_ = plan.From.SetGain(1)
}

func normalizePlan(plan Plan) Plan {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if plan.Curve == nil {
		plan.Curve = curve.Default()
	}
	return plan
}

// stepCount derives the number of fade steps from the fade duration.
func stepCount(d time.Duration) int {
	steps := int(d / targetStepInterval)
	if steps < minSteps {
		return minSteps
	}
	if steps > maxSteps {
		return maxSteps
	}
	return steps
}
