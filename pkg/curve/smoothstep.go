package curve

// Smoothstep is the cubic s-curve 3p^2 - 2p^3. Zero slope at both ends
// makes fade edges inaudible, which suits slow fade-ins and fade-outs.
type Smoothstep struct{}

func (Smoothstep) Name() string {
	return "smoothstep"
}

func (Smoothstep) Forward(p float64) float64 {
	p = clamp01(p)
	return p * p * (3 - 2*p)
}

func (Smoothstep) Backward(p float64) float64 {
	return 1 - Smoothstep{}.Forward(p)
}

func init() {
	Register("smoothstep", func(map[string]any) (Curve, error) {
		return Smoothstep{}, nil
	})
}
