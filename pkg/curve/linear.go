package curve

// Linear fades both gains at a constant rate. The summed power dips
// around the midpoint, so it is intended for single-channel fades
// rather than crossfades.
type Linear struct{}

func (Linear) Name() string {
	return "linear"
}

func (Linear) Forward(p float64) float64 {
	return clamp01(p)
}

func (Linear) Backward(p float64) float64 {
	return 1 - clamp01(p)
}

func init() {
	Register("linear", func(map[string]any) (Curve, error) {
		return Linear{}, nil
	})
}
