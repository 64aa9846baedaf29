package curve

import "math"

// EqualPower is the default crossfade curve. The gain pair keeps
// Forward(p)^2 + Backward(p)^2 = 1 for all p, so perceived loudness
// stays constant across the whole transition.
type EqualPower struct{}

func (EqualPower) Name() string {
	return "equal_power"
}

func (EqualPower) Forward(p float64) float64 {
	return math.Sin(clamp01(p) * math.Pi / 2)
}

func (EqualPower) Backward(p float64) float64 {
	return math.Cos(clamp01(p) * math.Pi / 2)
}

func init() {
	Register("equal_power", func(map[string]any) (Curve, error) {
		return EqualPower{}, nil
	})
}
