// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/soundbed/segue/pkg/crossfade"
	"github.com/soundbed/segue/pkg/curve"
	"github.com/soundbed/segue/pkg/playback"
	"github.com/soundbed/segue/pkg/track"
)

// Config represents the player configuration.
type Config struct {
	Audio      AudioConfig      `yaml:"audio"`
	Transition TransitionConfig `yaml:"transition"`
	Resume     ResumeConfig     `yaml:"resume"`
	Session    SessionConfig    `yaml:"session"`
}

// AudioConfig represents output device configuration.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate" default:"44100" validate:"gte=8000,lte=192000"`
	BufferMs   int `yaml:"buffer_ms" default:"100" validate:"gte=10,lte=1000"`
}

// TransitionConfig represents crossfade behavior.
type TransitionConfig struct {
	DurationMs           int            `yaml:"duration_ms" default:"6000" validate:"gte=1000,lte=30000"`
	Curve                string         `yaml:"curve" default:"equal_power"`
	CurveSettings        map[string]any `yaml:"curve_settings,omitempty"`
	RollbackMs           int            `yaml:"rollback_ms" default:"500" validate:"gte=100,lte=5000"`
	SettleMs             int            `yaml:"settle_ms" validate:"gte=0,lte=10000"`
	QuickFinishMs        int            `yaml:"quick_finish_ms" default:"1000" validate:"gte=200,lte=5000"`
	QuickFinishThreshold float64        `yaml:"quick_finish_threshold" default:"0.5" validate:"gte=0,lte=1"`
}

// ResumeConfig represents the suspended-transition policy.
type ResumeConfig struct {
	StalenessThresholdSec int `yaml:"staleness_threshold_sec" default:"300" validate:"gte=1"`
}

// SessionConfig represents the local playback session.
type SessionConfig struct {
	FadeOutMs int           `yaml:"fade_out_ms" default:"4000" validate:"gte=0,lte=30000"`
	Tracks    []TrackConfig `yaml:"tracks" validate:"dive"`
}

// TrackConfig represents a single playable track entry.
type TrackConfig struct {
	ID       string `yaml:"id" validate:"required"`
	Title    string `yaml:"title" validate:"required"`
	Location string `yaml:"location" validate:"required"`
	Loop     bool   `yaml:"loop"`
}

func (t TrackConfig) toTrack() track.Track {
	return track.Track{ID: t.ID, Title: t.Title, Location: t.Location, Loop: t.Loop}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validateCurve(); err != nil {
		return err
	}

	return c.validateTracks()
}

// validateCurve checks that the configured curve is registered, accepts
// its settings, and holds the fade endpoint contract.
func (c *Config) validateCurve() error {
	cv, err := curve.New(c.Transition.Curve, c.Transition.CurveSettings)
	if err != nil {
		return errors.Wrapf(err, "invalid curve %q", c.Transition.Curve)
	}
	if err := curve.CheckContract(cv); err != nil {
		return errors.Wrapf(err, "curve %q breaks the fade contract", c.Transition.Curve)
	}
	return nil
}

func (c *Config) validateTracks() error {
	seen := make(map[string]bool, len(c.Session.Tracks))
	for _, t := range c.Session.Tracks {
		if seen[t.ID] {
			return errors.Newf("duplicate track id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// Tracks returns the session track list as domain values.
func (c *Config) Tracks() []track.Track {
	out := make([]track.Track, 0, len(c.Session.Tracks))
	for _, t := range c.Session.Tracks {
		out = append(out, t.toTrack())
	}
	return out
}

// FindTrack looks a session track up by id.
func (c *Config) FindTrack(id string) (track.Track, bool) {
	for _, t := range c.Session.Tracks {
		if t.ID == id {
			return t.toTrack(), true
		}
	}
	return track.Track{}, false
}

// EngineConfig adapts the file schema to the playback engine.
func (c *Config) EngineConfig() playback.Config {
	return playback.Config{
		TransitionDuration:   time.Duration(c.Transition.DurationMs) * time.Millisecond,
		Curve:                c.Transition.Curve,
		CurveSettings:        c.Transition.CurveSettings,
		FadeOutDuration:      time.Duration(c.Session.FadeOutMs) * time.Millisecond,
		QuickFinishThreshold: c.Transition.QuickFinishThreshold,
		StalenessThreshold:   time.Duration(c.Resume.StalenessThresholdSec) * time.Second,
		Crossfade:            c.CrossfadeConfig(),
	}
}

// CrossfadeConfig adapts the transition section to the orchestrator.
// A zero settle delay means "one rollback duration".
func (c *Config) CrossfadeConfig() crossfade.Config {
	return crossfade.Config{
		RollbackDuration:     time.Duration(c.Transition.RollbackMs) * time.Millisecond,
		QuickFinishDuration:  time.Duration(c.Transition.QuickFinishMs) * time.Millisecond,
		SettleDelay:          time.Duration(c.Transition.SettleMs) * time.Millisecond,
		QuickFinishThreshold: c.Transition.QuickFinishThreshold,
	}
}
