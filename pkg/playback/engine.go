package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/soundbed/segue/pkg/audio"
	"github.com/soundbed/segue/pkg/crossfade"
	"github.com/soundbed/segue/pkg/curve"
	"github.com/soundbed/segue/pkg/track"
)

// Defaults for zero-valued Config fields.
const (
	DefaultTransitionDuration = 6 * time.Second
	DefaultStalenessThreshold = 300 * time.Second
)

const engineEventBuffer = 128

// ErrEngineClosed rejects operations posted after Close.
var ErrEngineClosed = errors.New("engine closed")

// Config tunes the engine. Values arrive pre-validated from the config
// layer; zero values fall back to defaults.
type Config struct {
	// TransitionDuration is the full crossfade length.
	TransitionDuration time.Duration
	// Curve names the registered fade curve used for crossfades.
	Curve string
	// CurveSettings parameterizes the curve, when it takes settings.
	CurveSettings map[string]any
	// FadeOutDuration is the terminal fade length for Stop. Zero stops
	// without fading.
	FadeOutDuration time.Duration
	// QuickFinishThreshold is the progress at or past which a resumed
	// transition quick-finishes.
	QuickFinishThreshold float64
	// StalenessThreshold forces QuickFinish on snapshots suspended
	// longer than this.
	StalenessThreshold time.Duration
	// Crossfade tunes the orchestrator.
	Crossfade crossfade.Config
}

func (c Config) withDefaults() Config {
	if c.TransitionDuration <= 0 {
		c.TransitionDuration = DefaultTransitionDuration
	}
	if c.Curve == "" {
		c.Curve = curve.Default().Name()
	}
	if c.QuickFinishThreshold <= 0 {
		c.QuickFinishThreshold = crossfade.DefaultQuickFinishThreshold
	}
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = DefaultStalenessThreshold
	}
	if c.Crossfade.QuickFinishThreshold <= 0 {
		c.Crossfade.QuickFinishThreshold = c.QuickFinishThreshold
	}
	return c
}

type command struct {
	fn   func()
	done chan struct{}
}

// pendingAction remembers what to do once the active run finishes
// rolling back: retry toward a new target, or fade out and stop.
type pendingAction struct {
	target *track.Track
	stop   bool
}

// Engine drives two audio lanes through the playback state machine.
// One loop goroutine owns the machine, both lanes, the active crossfade
// run and every timer; public methods post commands to it and wait.
// That single-writer discipline is what keeps concurrent user actions,
// fade steps and completion callbacks from racing on gains or state.
type Engine struct {
	cfg       Config
	mach      *Machine
	orch      *crossfade.Orchestrator
	loader    audio.Loader
	fadeCurve curve.Curve

	cmds    chan command
	events  chan Event
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once

	// Loop-owned. Never touched outside run().
	lanes        [2]audio.Channel
	activeLane   audio.Lane
	active       *crossfade.Run
	pending      *pendingAction
	loadSeq      int
	endSeq       int
	fadeSeq      int
	settleSeq    int
	endCancel    func()
	settleCancel func()
}

// NewEngine builds an engine over two channel lanes and a resource
// loader, and starts its command loop. Close releases it.
func NewEngine(cfg Config, laneA, laneB audio.Channel, loader audio.Loader) (*Engine, error) {
	cfg = cfg.withDefaults()
	c, err := curve.New(cfg.Curve, cfg.CurveSettings)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build fade curve")
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		mach:       NewMachine(),
		orch:       crossfade.New(cfg.Crossfade),
		loader:     loader,
		fadeCurve:  c,
		cmds:       make(chan command),
		events:     make(chan Event, engineEventBuffer),
		stopped:    make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		lanes:      [2]audio.Channel{laneA, laneB},
		activeLane: audio.LaneA,
	}
	go e.run()
	return e, nil
}

// State returns the current playback state.
func (e *Engine) State() State {
	return e.mach.Current()
}

// Events returns the notification stream. The channel is buffered and
// never blocks the engine; it is closed by Close.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Play loads and starts t. From Idle, Finished or Failed it cold
// starts; if t is already playing it is a no-op; if another track is
// playing it delegates to TransitionTo; if t is paused it resumes.
func (e *Engine) Play(ctx context.Context, t track.Track) error {
	var err error
	if derr := e.do(ctx, func() { err = e.play(t) }); derr != nil {
		return derr
	}
	return err
}

// TransitionTo crossfades from the current track to t. Requesting a
// new target mid-transition rolls the current fade back, settles, then
// retries toward t.
func (e *Engine) TransitionTo(ctx context.Context, t track.Track) error {
	var err error
	if derr := e.do(ctx, func() { err = e.transitionTo(t) }); derr != nil {
		return derr
	}
	return err
}

// Pause suspends playback. Mid-transition it freezes both lanes in
// place and captures a snapshot. Pausing while already paused is a
// no-op.
func (e *Engine) Pause(ctx context.Context) error {
	var err error
	if derr := e.do(ctx, func() { err = e.pause() }); derr != nil {
		return derr
	}
	return err
}

// Resume continues from Paused or TransitionPaused. Resuming while
// already playing is a no-op.
func (e *Engine) Resume(ctx context.Context) error {
	var err error
	if derr := e.do(ctx, func() { err = e.resume() }); derr != nil {
		return derr
	}
	return err
}

// Stop ends playback: a fade to silence from Playing, a rollback then
// fade from Transitioning, an instant stop from the suspended states.
func (e *Engine) Stop(ctx context.Context) error {
	var err error
	if derr := e.do(ctx, func() { err = e.stop() }); derr != nil {
		return derr
	}
	return err
}

// Reset clears a Failed state back to Idle. Play from Failed is the
// retry edge and does not need a Reset first.
func (e *Engine) Reset(ctx context.Context) error {
	var err error
	if derr := e.do(ctx, func() { err = e.reset() }); derr != nil {
		return derr
	}
	return err
}

// Close shuts the engine down: the active fade is restored immediately,
// lanes stop, the event channel closes. Safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		_ = e.do(context.Background(), e.shutdown)
	})
	return nil
}

// do posts fn to the loop and waits for it to run.
func (e *Engine) do(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case e.cmds <- cmd:
	case <-e.stopped:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-e.stopped:
		return ErrEngineClosed
	}
}

// post queues fn without waiting; used by completion callbacks. Posts
// after shutdown are dropped.
func (e *Engine) post(fn func()) {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case e.cmds <- cmd:
	case <-e.stopped:
	}
}

func (e *Engine) run() {
	for {
		select {
		case <-e.stopped:
			return
		default:
		}

		var evCh <-chan crossfade.Event
		var doneCh <-chan struct{}
		if e.active != nil {
			evCh = e.active.Events()
			doneCh = e.active.Done()
		}

		select {
		case cmd := <-e.cmds:
			cmd.fn()
			close(cmd.done)
		case ev := <-evCh:
			e.onRunEvent(ev)
		case <-doneCh:
			e.onRunDone()
		case <-e.stopped:
			return
		}
	}
}

func (e *Engine) shutdown() {
	e.cancel()
	if e.active != nil {
		<-e.active.Done()
		e.active = nil
	}
	e.cancelSettle()
	e.pending = nil
	e.stopLanes()
	close(e.events)
	close(e.stopped)
	zlog.Info().Msg("playback engine closed")
}

// apply commits next through the machine and publishes the change.
func (e *Engine) apply(next State) error {
	if err := e.mach.Apply(next); err != nil {
		return err
	}
	zlog.Debug().Str("state", next.String()).Msg("state changed")
	e.emit(Event{Type: StateChanged, State: next})
	return nil
}

// emit never blocks the loop; a lagging consumer loses events rather
// than stalling fades.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		zlog.Debug().Str("type", ev.Type.String()).Msg("event dropped, consumer lagging")
	}
}

func (e *Engine) play(t track.Track) error {
	cur := e.mach.Current()
	switch cur.Kind {
	case KindPlaying:
		if cur.Track.Same(t) {
			return nil
		}
		return e.transitionTo(t)
	case KindPaused:
		if cur.Track.Same(t) {
			return e.resume()
		}
		// Different track while paused: discard and cold start.
		e.stopLanes()
		if err := e.apply(Idle()); err != nil {
			return err
		}
		return e.startLoad(t)
	case KindPreparing:
		if cur.Track.Same(t) {
			return nil
		}
		return errors.Mark(
			errors.Newf("already preparing %s", cur.Track),
			ErrInvalidTransition)
	case KindIdle, KindFinished, KindFailed:
		return e.startLoad(t)
	default:
		return errors.Mark(
			errors.Newf("cannot play while %s", cur.Kind),
			ErrInvalidTransition)
	}
}

func (e *Engine) startLoad(t track.Track) error {
	if err := e.apply(Preparing(t)); err != nil {
		return err
	}
	e.loadSeq++
	seq := e.loadSeq
	ctx := e.ctx
	go func() {
		res, err := e.loader.Resolve(ctx, t)
		e.post(func() { e.loadDone(seq, t, res, err) })
	}()
	return nil
}

func (e *Engine) loadDone(seq int, t track.Track, res audio.Resource, rerr error) {
	if seq != e.loadSeq {
		return
	}
	cur := e.mach.Current()
	if cur.Kind != KindPreparing || !cur.Track.Same(t) {
		return
	}
	if rerr != nil {
		zlog.Error().Str("track", t.String()).Msgf("failed to resolve track: %v", rerr)
		_ = e.apply(Failed(rerr, audio.IsTransient(rerr)))
		return
	}

	ch := e.lanes[e.activeLane]
	if _, err := ch.Load(e.ctx, res); err != nil {
		_ = e.apply(Failed(errors.Wrapf(err, "failed to load %s", t), audio.IsTransient(err)))
		return
	}
	clock := ch.ReferenceClock()
	if err := ch.ScheduleStart(audio.SyncPoint{Clock: clock, At: clock.Now()}); err != nil {
		_ = ch.Stop()
		_ = e.apply(Failed(errors.Wrapf(err, "failed to start %s", t), true))
		return
	}
	if err := ch.SetGain(1); err != nil {
		// The lane is already running; silence it before surfacing the
		// failure so Failed never leaves audio playing.
		_ = ch.Stop()
		_ = e.apply(Failed(errors.Wrapf(err, "failed to unmute %s", t), true))
		return
	}
	if err := e.apply(Playing(t)); err != nil {
		zlog.Error().Msgf("could not publish playing state: %v", err)
		return
	}
	e.scheduleEndTimer(t)
	zlog.Info().Str("track", t.String()).Str("lane", e.activeLane.String()).Msg("playback started")
}

func (e *Engine) transitionTo(t track.Track) error {
	cur := e.mach.Current()
	switch cur.Kind {
	case KindPlaying:
		return e.startTransition(cur.Track, t)
	case KindTransitioning:
		if cur.To.Same(t) {
			return nil
		}
		// Double interrupt: roll the live fade back, then retry toward
		// the new target after a settle delay.
		e.pending = &pendingAction{target: &t}
		e.active.Cancel()
		zlog.Info().
			Str("abandoned", cur.To.String()).
			Str("target", t.String()).
			Msg("transition interrupted, rolling back before retry")
		return nil
	case KindPreparingTransition:
		if cur.To.Same(t) {
			return nil
		}
		return errors.Mark(
			errors.Newf("already preparing transition to %s", cur.To),
			ErrInvalidTransition)
	default:
		return errors.Mark(
			errors.Newf("cannot transition while %s", cur.Kind),
			ErrInvalidTransition)
	}
}

func (e *Engine) startTransition(from, to track.Track) error {
	if to.Same(from) {
		return errors.Mark(
			errors.Newf("transition target %s is already playing", to),
			ErrTrackMismatch)
	}
	if err := e.apply(PreparingTransition(from, to)); err != nil {
		return err
	}
	e.loadSeq++
	seq := e.loadSeq
	ctx := e.ctx
	go func() {
		res, err := e.loader.Resolve(ctx, to)
		e.post(func() { e.transitionResolved(seq, from, to, res, err) })
	}()
	return nil
}

func (e *Engine) transitionResolved(seq int, from, to track.Track, res audio.Resource, rerr error) {
	if seq != e.loadSeq {
		return
	}
	cur := e.mach.Current()
	if cur.Kind != KindPreparingTransition || !cur.From.Same(from) || !cur.To.Same(to) {
		return
	}
	if rerr != nil {
		e.failTransition(from, to, errors.Wrapf(rerr, "failed to resolve %s", to))
		return
	}

	incoming := e.lanes[e.activeLane.Other()]
	if _, err := incoming.Load(e.ctx, res); err != nil {
		e.failTransition(from, to, errors.Wrapf(err, "failed to load %s", to))
		return
	}
	if err := e.apply(Transitioning(from, to, 0, false)); err != nil {
		zlog.Error().Msgf("could not publish transitioning state: %v", err)
		return
	}
	e.cancelEndTimer()

	plan := crossfade.Plan{
		ID:         uuid.New(),
		From:       e.lanes[e.activeLane],
		To:         incoming,
		FromTrack:  from,
		ToTrack:    to,
		Duration:   e.cfg.TransitionDuration,
		Curve:      e.fadeCurve,
		ActiveLane: e.activeLane,
	}
	r, err := e.orch.Start(e.ctx, plan)
	if err != nil {
		e.stopLanes()
		_ = e.apply(Failed(err, true))
		return
	}
	e.active = r
}

// failTransition surfaces a preparation failure as Failed with both
// lanes stopped. The adjacency table has no PreparingTransition ->
// Failed edge, so the machine passes through an instantaneous
// Transitioning hop on its way there.
func (e *Engine) failTransition(from, to track.Track, err error) {
	zlog.Error().
		Str("from", from.String()).
		Str("to", to.String()).
		Msgf("transition preparation failed: %v", err)
	if e.mach.Current().Kind == KindPreparingTransition {
		_ = e.apply(Transitioning(from, to, 0, false))
	}
	e.stopLanes()
	_ = e.apply(Failed(err, audio.IsTransient(err)))
}

func (e *Engine) pause() error {
	cur := e.mach.Current()
	switch cur.Kind {
	case KindPaused, KindTransitionPaused:
		return nil
	case KindPlaying:
		e.cancelSettle()
		e.pending = nil
		ch := e.lanes[e.activeLane]
		if err := ch.Pause(); err != nil {
			return errors.Wrap(err, "failed to pause channel")
		}
		e.cancelEndTimer()
		return e.apply(Paused(cur.Track, ch.Position()))
	case KindPreparingTransition:
		// Abandon the prepared target, suspend the current track.
		e.loadSeq++
		ch := e.lanes[e.activeLane]
		if err := ch.Pause(); err != nil {
			return errors.Wrap(err, "failed to pause channel")
		}
		e.cancelEndTimer()
		return e.apply(Paused(cur.From, ch.Position()))
	case KindTransitioning:
		return e.freezeTransition()
	default:
		return errors.Mark(
			errors.Newf("cannot pause while %s", cur.Kind),
			ErrInvalidTransition)
	}
}

// freezeTransition suspends the live run in place and publishes
// TransitionPaused with the captured snapshot. A freeze wins over any
// pending retry target.
func (e *Engine) freezeTransition() error {
	r := e.active
	if r == nil {
		return errors.Mark(errors.New("no active transition"), ErrInvalidTransition)
	}
	e.pending = nil
	snap, err := r.Freeze()
	if err != nil {
		// The run reached commit or rollback first; its done handler
		// will publish that outcome.
		return errors.Wrap(err, "transition ended before pause")
	}
	e.drainRunEvents(r)
	e.active = nil

	plan := r.Plan()
	progress := r.Progress()
	strategy := crossfade.StrategyFor(progress, e.orch.Config().QuickFinishThreshold)
	if err := e.apply(TransitionPaused(plan.FromTrack, plan.ToTrack, progress, strategy, snap)); err != nil {
		return err
	}
	e.emit(Event{
		Type:                TransitionFrozen,
		State:               e.mach.Current(),
		From:                plan.FromTrack,
		To:                  plan.ToTrack,
		Progress:            progress,
		QuickFinishEligible: strategy == crossfade.QuickFinish,
		TransitionID:        plan.ID,
	})
	return nil
}

func (e *Engine) resume() error {
	cur := e.mach.Current()
	switch cur.Kind {
	case KindPlaying, KindTransitioning:
		return nil
	case KindPaused:
		ch := e.lanes[e.activeLane]
		if err := ch.Resume(); err != nil {
			return errors.Wrap(err, "failed to resume channel")
		}
		if err := e.apply(Playing(cur.Track)); err != nil {
			return err
		}
		e.scheduleEndTimer(cur.Track)
		return nil
	case KindTransitionPaused:
		return e.resumeTransition(cur)
	default:
		return errors.Mark(
			errors.Newf("cannot resume while %s", cur.Kind),
			ErrInvalidTransition)
	}
}

func (e *Engine) resumeTransition(cur State) error {
	snap := *cur.Snapshot
	strategy := cur.Strategy

	now := time.Now()
	if snap.Stale(now, e.cfg.StalenessThreshold) && strategy != crossfade.QuickFinish {
		zlog.Warn().
			Dur("age", now.Sub(snap.CapturedAt)).
			Dur("threshold", e.cfg.StalenessThreshold).
			Msg("snapshot is stale, forcing quick finish")
		strategy = crossfade.QuickFinish
	}

	outgoing := e.lanes[e.activeLane]
	incoming := e.lanes[e.activeLane.Other()]
	fixed, clamped, err := snap.Validate(outgoing.Duration(), incoming.Duration())
	if err != nil {
		// Corrupted snapshot: discard it rather than apply bad gains.
		// The caller falls back to a cold start of the target track.
		zlog.Error().Msgf("resume aborted: %v", err)
		e.stopLanes()
		_ = e.apply(Idle())
		return err
	}
	if clamped {
		zlog.Warn().
			Dur("outgoing", fixed.OutgoingPosition).
			Dur("incoming", fixed.IncomingPosition).
			Msg("snapshot positions clamped to channel range")
	}

	eligible := cur.Progress >= e.orch.Config().QuickFinishThreshold
	if err := e.apply(Transitioning(cur.From, cur.To, cur.Progress, eligible)); err != nil {
		return err
	}
	plan := crossfade.Plan{
		ID:         uuid.New(),
		From:       outgoing,
		To:         incoming,
		FromTrack:  cur.From,
		ToTrack:    cur.To,
		Duration:   fixed.Duration,
		Curve:      e.curveFor(fixed.Curve),
		ActiveLane: e.activeLane,
	}
	r, err := e.orch.Resume(e.ctx, plan, fixed, strategy, cur.Progress)
	if err != nil {
		e.stopLanes()
		_ = e.apply(Failed(err, true))
		return err
	}
	e.active = r
	return nil
}

func (e *Engine) stop() error {
	cur := e.mach.Current()
	switch cur.Kind {
	case KindIdle, KindFinished, KindFailed, KindFadingOut:
		return nil
	case KindPreparing:
		e.loadSeq++
		return e.apply(Idle())
	case KindPlaying:
		e.cancelSettle()
		e.pending = nil
		return e.startFadeOut(cur.Track)
	case KindPreparingTransition:
		e.loadSeq++
		return e.startFadeOut(cur.From)
	case KindTransitioning:
		e.pending = &pendingAction{stop: true}
		e.active.Cancel()
		return nil
	case KindPaused, KindTransitionPaused:
		e.stopLanes()
		return e.apply(Idle())
	default:
		return errors.Mark(
			errors.Newf("cannot stop while %s", cur.Kind),
			ErrInvalidTransition)
	}
}

func (e *Engine) startFadeOut(t track.Track) error {
	if err := e.apply(FadingOut(t, e.cfg.FadeOutDuration)); err != nil {
		return err
	}
	e.cancelEndTimer()
	e.fadeSeq++
	seq := e.fadeSeq
	ch := e.lanes[e.activeLane]
	d := e.cfg.FadeOutDuration
	ctx := e.ctx
	go func() {
		err := e.orch.FadeOut(ctx, ch, d, nil)
		e.post(func() { e.fadeOutDone(seq, err) })
	}()
	return nil
}

func (e *Engine) fadeOutDone(seq int, ferr error) {
	if seq != e.fadeSeq {
		return
	}
	if e.mach.Current().Kind != KindFadingOut {
		return
	}
	if ferr != nil {
		zlog.Error().Msgf("fade out did not complete cleanly: %v", ferr)
	}
	_ = e.apply(Finished())
}

func (e *Engine) reset() error {
	cur := e.mach.Current()
	switch cur.Kind {
	case KindIdle:
		return nil
	case KindFailed:
		e.stopLanes()
		return e.apply(Idle())
	default:
		return errors.Mark(
			errors.Newf("cannot reset while %s", cur.Kind),
			ErrInvalidTransition)
	}
}

func (e *Engine) onRunEvent(ev crossfade.Event) {
	if err := e.mach.AdvanceProgress(ev.Progress, ev.QuickFinishEligible); err != nil {
		zlog.Debug().Msgf("dropping stale progress event: %v", err)
		return
	}
	e.emit(Event{
		Type:                TransitionProgress,
		State:               e.mach.Current(),
		From:                ev.FromTrack,
		To:                  ev.ToTrack,
		Progress:            ev.Progress,
		QuickFinishEligible: ev.QuickFinishEligible,
		TransitionID:        ev.TransitionID,
	})
}

// drainRunEvents flushes buffered progress before a terminal event so
// the terminal event is always the last one for its transition id.
func (e *Engine) drainRunEvents(r *crossfade.Run) {
	for {
		select {
		case ev := <-r.Events():
			e.onRunEvent(ev)
		default:
			return
		}
	}
}

func (e *Engine) onRunDone() {
	r := e.active
	if r == nil {
		return
	}
	e.drainRunEvents(r)
	e.active = nil
	plan := r.Plan()

	switch r.Outcome() {
	case crossfade.OutcomeCommitted:
		e.activeLane = plan.ActiveLane.Other()
		if err := e.apply(Playing(plan.ToTrack)); err != nil {
			zlog.Error().Msgf("could not publish committed state: %v", err)
		}
		e.emit(Event{
			Type:                TransitionCommitted,
			State:               e.mach.Current(),
			From:                plan.FromTrack,
			To:                  plan.ToTrack,
			Progress:            1,
			QuickFinishEligible: true,
			TransitionID:        plan.ID,
		})
		e.scheduleEndTimer(plan.ToTrack)
	case crossfade.OutcomeRolledBack:
		if err := e.apply(Playing(plan.FromTrack)); err != nil {
			zlog.Error().Msgf("could not publish rolled back state: %v", err)
		}
		e.emit(Event{
			Type:         TransitionRolledBack,
			State:        e.mach.Current(),
			From:         plan.FromTrack,
			To:           plan.ToTrack,
			Progress:     r.Progress(),
			TransitionID: plan.ID,
		})
		e.scheduleEndTimer(plan.FromTrack)
	case crossfade.OutcomeFailed:
		e.emit(Event{
			Type:         TransitionRolledBack,
			State:        e.mach.Current(),
			From:         plan.FromTrack,
			To:           plan.ToTrack,
			Progress:     r.Progress(),
			TransitionID: plan.ID,
		})
		e.stopLanes()
		_ = e.apply(Failed(r.Err(), true))
		e.pending = nil
		return
	case crossfade.OutcomeFrozen:
		// Freeze is handled synchronously by the pause path.
		return
	}
	e.afterRun()
}

// afterRun services the action that interrupted the finished run.
func (e *Engine) afterRun() {
	p := e.pending
	if p == nil {
		return
	}
	e.pending = nil

	cur := e.mach.Current()
	if cur.Kind != KindPlaying {
		return
	}
	if p.stop {
		if err := e.startFadeOut(cur.Track); err != nil {
			zlog.Error().Msgf("could not fade out after rollback: %v", err)
		}
		return
	}
	if p.target == nil {
		return
	}
	// Settle before retrying so the rollback fade and the retry fade
	// never overlap on the same lane.
	target := *p.target
	e.settleSeq++
	seq := e.settleSeq
	delay := e.orch.Config().SettleDelay
	zlog.Debug().Dur("settle", delay).Str("target", target.String()).Msg("scheduling transition retry")
	e.settleCancel = cancellableAfter(delay, func() {
		e.post(func() { e.settleFired(seq, target) })
	})
}

func (e *Engine) settleFired(seq int, target track.Track) {
	if seq != e.settleSeq {
		return
	}
	cur := e.mach.Current()
	if cur.Kind != KindPlaying {
		return
	}
	if err := e.startTransition(cur.Track, target); err != nil {
		zlog.Error().Msgf("transition retry failed: %v", err)
	}
}

func (e *Engine) trackEnded(seq int) {
	if seq != e.endSeq {
		return
	}
	cur := e.mach.Current()
	if cur.Kind != KindPlaying {
		return
	}
	ch := e.lanes[e.activeLane]
	if err := ch.Stop(); err != nil {
		zlog.Error().Msgf("failed to stop channel at track end: %v", err)
	}
	zlog.Info().Str("track", cur.Track.String()).Msg("track finished")
	_ = e.apply(Finished())
}

// scheduleEndTimer arms the natural-completion timer for t. Looping
// tracks and tracks of unknown duration never complete on their own.
func (e *Engine) scheduleEndTimer(t track.Track) {
	e.cancelEndTimer()
	if t.Loop {
		return
	}
	ch := e.lanes[e.activeLane]
	remaining := ch.Duration() - ch.Position()
	if ch.Duration() <= 0 || remaining <= 0 {
		return
	}
	e.endSeq++
	seq := e.endSeq
	e.endCancel = cancellableAfter(remaining, func() {
		e.post(func() { e.trackEnded(seq) })
	})
}

func (e *Engine) cancelEndTimer() {
	e.endSeq++
	if e.endCancel != nil {
		e.endCancel()
		e.endCancel = nil
	}
}

func (e *Engine) cancelSettle() {
	e.settleSeq++
	if e.settleCancel != nil {
		e.settleCancel()
		e.settleCancel = nil
	}
}

func (e *Engine) stopLanes() {
	e.cancelEndTimer()
	for _, ch := range e.lanes {
		if err := ch.Stop(); err != nil {
			zlog.Debug().Msgf("stopping lane: %v", err)
		}
	}
}

// curveFor resolves a snapshot's recorded curve id, falling back to the
// configured curve when the id is unknown or matches it anyway.
func (e *Engine) curveFor(name string) curve.Curve {
	if name == "" || name == e.fadeCurve.Name() {
		return e.fadeCurve
	}
	c, err := curve.New(name, nil)
	if err != nil {
		zlog.Warn().Str("curve", name).Msg("unknown snapshot curve, using configured curve")
		return e.fadeCurve
	}
	return c
}

func cancellableAfter(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}
