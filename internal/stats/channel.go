package stats

import (
	"math"

	"github.com/sweeney/field-logger/internal/errors"
)

// sseTolerance bounds how far below zero a rounding-only SSE may fall,
// relative to Sxx, before it is treated as instability.
const sseTolerance = 1e-9

// timeSpreadTolerance is the fraction of SumT2 below which Stt is taken to
// be cancellation noise rather than a real spread in time.
const timeSpreadTolerance = 1e-13

// Mean returns SumX/N, or the current value when no samples are held.
func (c Channel) Mean() float64 {
	if c.N == 0 {
		return c.Current
	}
	return c.SumX / float64(c.N)
}

// Variance returns the sample variance from the computational formula.
// It fails with ErrUnavailable for fewer than two samples and with
// ErrNumericInstability when cancellation drives the result negative.
func (c Channel) Variance() (float64, error) {
	errFactory := errors.New()

	if c.N < 2 {
		return 0, errFactory.New(errors.ErrUnavailable)
	}
	n := float64(c.N)
	v := (c.SumX2 - c.SumX*c.SumX/n) / (n - 1)
	if v < 0 || math.IsNaN(v) {
		return 0, errFactory.WithData(errors.ErrNumericInstability, v)
	}
	return v, nil
}

// SampleStdDev returns the square root of Variance. Channels whose output
// level does not request a standard deviation report ErrUnavailable.
func (c Channel) SampleStdDev() (float64, error) {
	if !c.Output.ShowsStdDev() {
		return 0, errors.New().New(errors.ErrUnavailable)
	}
	v, err := c.Variance()
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

// FitTrend computes the regression of value against time from the
// channel's sums.
func (c Channel) FitTrend() (Trend, error) {
	errFactory := errors.New()

	if !c.Trend || c.N < 3 {
		return Trend{}, errFactory.New(errors.ErrUnavailable)
	}

	n := float64(c.N)
	sxx := c.SumX2 - c.SumX*c.SumX/n
	sxt := c.SumXT - c.SumX*c.SumT/n
	stt := c.SumT2 - c.SumT*c.SumT/n
	if math.IsNaN(stt) || stt <= timeSpreadTolerance*math.Abs(c.SumT2) {
		return Trend{}, errFactory.WithData(errors.ErrUnavailable, "no spread in time")
	}

	slope := sxt / stt
	sse := sxx - sxt*sxt/stt
	if sse < 0 {
		if -sse > sseTolerance*math.Abs(sxx) && -sse > sseTolerance {
			return Trend{}, errFactory.WithData(errors.ErrNumericInstability, sse)
		}
		sse = 0
	}
	sigma2 := sse / (n - 2)

	tr := Trend{
		Slope:          slope,
		ResidualStdDev: math.Sqrt(sigma2),
		StdErr:         math.Sqrt(sigma2 / stt),
	}
	if !finite(tr.Slope) || !finite(tr.ResidualStdDev) || !finite(tr.StdErr) {
		return Trend{}, errFactory.WithData(errors.ErrUnavailable, "non-finite trend")
	}
	return tr, nil
}

// BaselineStdDev returns the spread of the readings collected for a
// computed baseline.
func (c Channel) BaselineStdDev() (float64, error) {
	b := Channel{N: c.baselineCount, SumX: c.baselineSum, SumX2: c.baselineSumX2, Output: OutputAll}
	return b.SampleStdDev()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
