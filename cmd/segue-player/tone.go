package main

import (
	"math"
	"os"

	"github.com/cockroachdb/errors"
	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

// writeTone renders a stereo sine tone with the right channel detuned
// by half a percent. The slow beating between the channels makes
// crossfade overlaps easy to pick out by ear.
func writeTone(path string, freq, seconds float64, rate int) error {
	if freq <= 0 || seconds <= 0 || rate <= 0 {
		return errors.Newf("invalid tone parameters: %vHz, %vs at %d", freq, seconds, rate)
	}
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer out.Close()

	const (
		channels = 2
		bitDepth = 16
		pcmFmt   = 1
	)
	enc := gowav.NewEncoder(out, rate, bitDepth, channels, pcmFmt)

	n := int(seconds * float64(rate))
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		SourceBitDepth: bitDepth,
		Data:           make([]int, n*channels),
	}
	const amp = 0.4
	detuned := freq * 1.005
	for i := 0; i < n; i++ {
		at := float64(i) / float64(rate)
		buf.Data[channels*i] = int(amp * math.Sin(2*math.Pi*freq*at) * math.MaxInt16)
		buf.Data[channels*i+1] = int(amp * math.Sin(2*math.Pi*detuned*at) * math.MaxInt16)
	}
	if err := enc.Write(buf); err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := enc.Close(); err != nil {
		return errors.Wrapf(err, "failed to finalize %s", path)
	}
	return nil
}
