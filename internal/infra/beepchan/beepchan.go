// Package beepchan renders audio lanes through a single faiface/beep
// speaker mix. Both lanes play into the same device and share one
// sample-counting clock, which is what lets the engine schedule an
// incoming track phase-aligned with the outgoing one.
package beepchan

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
	zlog "github.com/rs/zerolog/log"

	"github.com/soundbed/segue/pkg/audio"
	"github.com/soundbed/segue/pkg/track"
)

// resampleQuality balances CPU cost against artifacts when a file's
// rate differs from the speaker rate.
const resampleQuality = 4

// silenceFloor is the gain below which the volume effect mutes outright
// instead of computing a very negative exponent.
const silenceFloor = 1e-3

var (
	initOnce  sync.Once
	initErr   error
	mixRate   beep.SampleRate
	procClock *mixerClock
)

// Init opens the speaker at the given sample rate and buffer size and
// starts the shared clock. Safe to call more than once; only the first
// call configures the device.
func Init(sampleRate int, buffer time.Duration) error {
	initOnce.Do(func() {
		sr := beep.SampleRate(sampleRate)
		if err := speaker.Init(sr, sr.N(buffer)); err != nil {
			initErr = errors.Wrap(err, "failed to open speaker")
			return
		}
		mixRate = sr
		procClock = &mixerClock{rate: sr}
		speaker.Play(procClock)
		zlog.Info().
			Int("sample_rate", sampleRate).
			Dur("buffer", buffer).
			Msg("speaker initialized")
	})
	return initErr
}

// Clock returns the shared render clock, nil before Init.
func Clock() audio.SyncClock {
	if procClock == nil {
		return nil
	}
	return procClock
}

// mixerClock counts samples the speaker has drawn since Init. It sits
// in the speaker mix as a permanent silent streamer, so its reading
// advances exactly as fast as every lane's audio does.
type mixerClock struct {
	rate beep.SampleRate
	n    int64
}

func (c *mixerClock) Now() time.Duration {
	return c.rate.D(int(atomic.LoadInt64(&c.n)))
}

func (c *mixerClock) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{}
	}
	atomic.AddInt64(&c.n, int64(len(samples)))
	return len(samples), true
}

func (c *mixerClock) Err() error { return nil }

// Resource is a probed local audio file.
type Resource struct {
	path     string
	duration time.Duration
	loop     bool
}

func (r *Resource) Duration() time.Duration { return r.duration }
func (r *Resource) String() string          { return r.path }

// Loader resolves track locations to local audio files, probing each
// one for decodability and length.
type Loader struct{}

func NewLoader() *Loader {
	return &Loader{}
}

// Resolve opens and fully identifies the track's file. The probe
// decoder is closed again; playback decodes fresh on Load.
func (l *Loader) Resolve(ctx context.Context, t track.Track) (audio.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamer, format, err := decode(t.Location)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to probe %s", t.Location)
	}
	d := format.SampleRate.D(streamer.Len())
	if cerr := streamer.Close(); cerr != nil {
		zlog.Debug().Msgf("closing probe streamer: %v", cerr)
	}
	return &Resource{path: t.Location, duration: d, loop: t.Loop}, nil
}

// decode opens path with the decoder matching its extension. The
// returned streamer owns the file handle.
func decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3.Decode(f)
	case ".wav":
		return wav.Decode(f)
	case ".flac":
		return flac.Decode(f)
	case ".ogg":
		return vorbis.Decode(f)
	default:
		f.Close()
		return nil, beep.Format{}, errors.Newf("unsupported audio format %q", filepath.Ext(path))
	}
}

// volumeFor maps a linear gain in [0,1] to the effects.Volume dials.
// With Base 2 the multiplier works out to 2^log2(gain) = gain; below
// the floor the effect mutes instead.
func volumeFor(gain float64) (vol float64, silent bool) {
	if gain < silenceFloor {
		return 0, true
	}
	return math.Log2(gain), false
}
