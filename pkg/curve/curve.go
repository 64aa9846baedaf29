// Package curve provides the fade curve library consumed by crossfades
// and single-channel fades.
package curve

import (
	"math"
	"sort"

	"github.com/cockroachdb/errors"
)

// contractTolerance is the allowed deviation at the curve boundaries.
const contractTolerance = 1e-4

// Curve maps fade progress in [0,1] to channel gains.
type Curve interface {
	// Name returns the curve name (used in config).
	Name() string
	// Forward returns the incoming channel's gain at progress p.
	Forward(p float64) float64
	// Backward returns the outgoing channel's gain at progress p.
	Backward(p float64) float64
}

// Pair returns the (outgoing, incoming) gain pair at progress p.
func Pair(c Curve, p float64) (out, in float64) {
	return c.Backward(p), c.Forward(p)
}

// Factory builds a curve from config settings.
type Factory func(settings map[string]any) (Curve, error)

// registry holds registered curve factories.
var registry = make(map[string]Factory)

// Register registers a curve factory under the given name.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// New builds the named curve with the given settings.
func New(name string, settings map[string]any) (Curve, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, errors.Newf("unknown fade curve: %s", name)
	}
	c, err := factory(settings)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build curve %s", name)
	}
	return c, nil
}

// Names returns the registered curve names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the curve used for crossfades when none is configured.
func Default() Curve {
	return EqualPower{}
}

// CheckContract verifies the boundary contract every curve must satisfy:
// Forward(0)=0, Forward(1)=1, Backward(0)=1, Backward(1)=0 within tolerance.
func CheckContract(c Curve) error {
	checks := []struct {
		side string
		got  float64
		want float64
	}{
		{"forward(0)", c.Forward(0), 0},
		{"forward(1)", c.Forward(1), 1},
		{"backward(0)", c.Backward(0), 1},
		{"backward(1)", c.Backward(1), 0},
	}
	for _, check := range checks {
		if math.Abs(check.got-check.want) > contractTolerance {
			return errors.Newf("curve %s violates boundary contract: %s = %v, want %v",
				c.Name(), check.side, check.got, check.want)
		}
	}
	return nil
}

// clamp01 clamps progress into [0,1].
func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
