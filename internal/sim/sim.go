// Package sim generates synthetic sensor readings for bench testing
// without hardware.
package sim

import (
	"math"
	"math/rand"

	"github.com/sweeney/field-logger/internal/clock"
)

// Params shape a simulated signal:
//
//	value(t) = Intercept + Slope*t + U(-1,1)*Range + Amplitude*sin(2*pi*t/Period)
//
// with t in seconds. A zero Period disables the sine term.
type Params struct {
	Intercept float64
	Slope     float64
	Range     float64
	Amplitude float64
	Period    float64
}

// Sensor produces readings from Params and a random source.
type Sensor struct {
	params Params
	rng    *rand.Rand
}

// New creates a Sensor. rng must not be shared between goroutines.
func New(p Params, rng *rand.Rand) *Sensor {
	return &Sensor{params: p, rng: rng}
}

// NewSeeded creates a Sensor with its own source.
func NewSeeded(p Params, seed int64) *Sensor {
	return New(p, rand.New(rand.NewSource(seed)))
}

// Params returns the signal shape.
func (s *Sensor) Params() Params {
	return s.params
}

// Noise returns a uniform value in [-1, 1] in steps of 0.001.
func (s *Sensor) Noise() float64 {
	return float64(s.rng.Intn(2001)-1000) / 1000
}

// Baseline is the noise-free signal at t seconds.
func (p Params) Baseline(t float64) float64 {
	v := p.Intercept + p.Slope*t
	if p.Period != 0 {
		v += p.Amplitude * math.Sin(2*math.Pi*t/p.Period)
	}
	return v
}

// Read returns a reading at now.
func (s *Sensor) Read(now clock.Millis) float64 {
	t := float64(now) / 1000
	return s.params.Baseline(t) + s.Noise()*s.params.Range
}
