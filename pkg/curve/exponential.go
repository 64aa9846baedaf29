package curve

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// ExponentialConfig represents the settings for the exponential curve.
type ExponentialConfig struct {
	// Base controls steepness. Higher bases keep the gain low for
	// longer before rising sharply at the end.
	Base float64 `yaml:"base" mapstructure:"base" default:"10" validate:"gt=1"`
}

// Exponential stays quiet for most of the fade and rises sharply near
// the end. Used for fade-outs where a long tail would mask the next cue.
type Exponential struct {
	base float64
}

// NewExponential creates an exponential curve from config settings.
func NewExponential(settings map[string]any) (*Exponential, error) {
	var config ExponentialConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &Exponential{base: config.Base}, nil
}

func (c *Exponential) Name() string {
	return "exponential"
}

func (c *Exponential) Forward(p float64) float64 {
	return (math.Pow(c.base, clamp01(p)) - 1) / (c.base - 1)
}

func (c *Exponential) Backward(p float64) float64 {
	return c.Forward(1 - clamp01(p))
}

func init() {
	Register("exponential", func(settings map[string]any) (Curve, error) {
		return NewExponential(settings)
	})
}
