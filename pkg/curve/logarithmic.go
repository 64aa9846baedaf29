package curve

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// LogarithmicConfig represents the settings for the logarithmic curve.
type LogarithmicConfig struct {
	// Intensity controls how front-loaded the fade is. Higher values
	// rise faster early and flatten out near the end.
	Intensity float64 `yaml:"intensity" mapstructure:"intensity" default:"9" validate:"gt=0"`
}

// Logarithmic rises quickly at low progress and levels off, which
// tracks how loudness is perceived. Used for fade-ins of quiet material.
type Logarithmic struct {
	intensity float64
	norm      float64
}

// NewLogarithmic creates a logarithmic curve from config settings.
func NewLogarithmic(settings map[string]any) (*Logarithmic, error) {
	var config LogarithmicConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &Logarithmic{
		intensity: config.Intensity,
		norm:      math.Log1p(config.Intensity),
	}, nil
}

func (c *Logarithmic) Name() string {
	return "logarithmic"
}

func (c *Logarithmic) Forward(p float64) float64 {
	return math.Log1p(c.intensity*clamp01(p)) / c.norm
}

func (c *Logarithmic) Backward(p float64) float64 {
	return c.Forward(1 - clamp01(p))
}

func init() {
	Register("logarithmic", func(settings map[string]any) (Curve, error) {
		return NewLogarithmic(settings)
	})
}
