package beepchan

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/soundbed/segue/pkg/audio"
)

// Channel is one playback lane in the speaker mix. All methods take
// c.mu first and the speaker lock second; nothing running on the
// speaker thread ever calls back into the channel.
type Channel struct {
	clock *mixerClock

	mu       sync.Mutex
	res      *Resource
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	gain     float64
	playing  bool
	paused   bool
}

// NewChannel returns a silent, unloaded lane. Init must have been
// called first.
func NewChannel() (*Channel, error) {
	if procClock == nil {
		return nil, errors.New("speaker not initialized")
	}
	return &Channel{clock: procClock, gain: 1}, nil
}

// Load decodes the resource and builds the lane's streamer chain
// without starting it. Any previous content is dropped.
func (c *Channel) Load(ctx context.Context, res audio.Resource) (time.Duration, error) {
	r, ok := res.(*Resource)
	if !ok {
		return 0, errors.Newf("resource %s does not belong to this backend", res)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked()

	streamer, format, err := decode(r.path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to decode %s", r.path)
	}

	var src beep.Streamer = streamer
	if r.loop {
		src = beep.Loop(-1, streamer)
	}
	if format.SampleRate != mixRate {
		src = beep.Resample(resampleQuality, format.SampleRate, mixRate, src)
	}
	vol, silent := volumeFor(c.gain)
	c.volume = &effects.Volume{Streamer: src, Base: 2, Volume: vol, Silent: silent}
	c.ctrl = &beep.Ctrl{Streamer: c.volume}
	c.res = r
	c.streamer = streamer
	c.format = format
	return r.duration, nil
}

// ScheduleStart queues the loaded content to begin at the given clock
// reading, padding with silence when the point is still ahead.
func (c *Channel) ScheduleStart(at audio.SyncPoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctrl == nil {
		return errors.New("no content loaded")
	}
	if c.playing {
		return errors.New("channel already started")
	}

	delay := at.At - c.clock.Now()
	lead := beep.Silence(0)
	if delay > 0 {
		lead = beep.Silence(mixRate.N(delay))
	}
	speaker.Play(beep.Seq(lead, c.ctrl))
	c.playing = true
	return nil
}

// SetGain adjusts the lane's linear gain. Takes effect immediately
// when content is loaded, otherwise on the next Load.
func (c *Channel) SetGain(gain float64) error {
	if gain < 0 || gain > 1 {
		return errors.Newf("gain %v out of range [0, 1]", gain)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gain = gain
	if c.volume != nil {
		vol, silent := volumeFor(gain)
		speaker.Lock()
		c.volume.Volume = vol
		c.volume.Silent = silent
		speaker.Unlock()
	}
	return nil
}

func (c *Channel) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

func (c *Channel) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctrl == nil || !c.playing {
		return errors.New("channel is not playing")
	}
	if c.paused {
		return errors.New("channel is already paused")
	}
	speaker.Lock()
	c.ctrl.Paused = true
	speaker.Unlock()
	c.paused = true
	return nil
}

func (c *Channel) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctrl == nil || !c.paused {
		return errors.New("channel is not paused")
	}
	speaker.Lock()
	c.ctrl.Paused = false
	speaker.Unlock()
	c.paused = false
	return nil
}

// Stop silences the lane and releases its decoder. The lane stays
// usable for the next Load; the last gain setting is kept.
func (c *Channel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detachLocked()
	return nil
}

// detachLocked unhooks the lane from the mix and closes the decoder.
// The mixer drops a streamer whose Ctrl yields no samples, so clearing
// the inner streamer under the speaker lock is enough to silence it.
func (c *Channel) detachLocked() {
	if c.ctrl != nil {
		speaker.Lock()
		c.ctrl.Streamer = nil
		speaker.Unlock()
	}
	if c.streamer != nil {
		if err := c.streamer.Close(); err != nil {
			zlog.Debug().Msgf("closing streamer: %v", err)
		}
	}
	c.res = nil
	c.streamer = nil
	c.format = beep.Format{}
	c.ctrl = nil
	c.volume = nil
	c.playing = false
	c.paused = false
}

func (c *Channel) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := c.streamer.Position()
	speaker.Unlock()
	return c.format.SampleRate.D(pos)
}

func (c *Channel) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.res == nil {
		return 0
	}
	return c.res.duration
}

func (c *Channel) ReferenceClock() audio.SyncClock {
	return c.clock
}
