// Package stats maintains streaming statistics for numeric sensor channels.
// Each channel keeps running sums only; averages, standard deviations and
// linear trends are derived from those sums on demand. The registry has a
// fixed capacity and never grows.
package stats

// Registry limits.
const (
	MaxChannels = 20
	MaxName     = 49
	MaxShort    = 9
	MaxUnits    = 49
)

// NoEvent marks a channel without an associated event tracker.
const NoEvent = -1

// OutputLevel selects which statistics a channel contributes to
// spreadsheet rows.
type OutputLevel int

const (
	OutputInternal       OutputLevel = -1 // no columns
	OutputCurrent        OutputLevel = 0  // current value only
	OutputAverage        OutputLevel = 1  // average only
	OutputAverageCurrent OutputLevel = 2  // average and current
	OutputAverageCount   OutputLevel = 3  // average and sample size
	OutputAverageStdDev  OutputLevel = 4  // average and standard deviation
	OutputAll            OutputLevel = 5  // current, average, stddev, sample size
)

// Valid reports whether l is one of the defined levels.
func (l OutputLevel) Valid() bool {
	return l >= OutputInternal && l <= OutputAll
}

// ShowsCurrent reports whether the current value is written.
func (l OutputLevel) ShowsCurrent() bool {
	return l == OutputCurrent || l == OutputAverageCurrent || l == OutputAll
}

// ShowsAverage reports whether the average is written.
func (l OutputLevel) ShowsAverage() bool {
	return l > OutputCurrent
}

// ShowsStdDev reports whether the standard deviation is written.
func (l OutputLevel) ShowsStdDev() bool {
	return l > OutputAverageCount
}

// ShowsCount reports whether the sample size is written.
func (l OutputLevel) ShowsCount() bool {
	return l == OutputAverageCount || l == OutputAll
}

// BaselineMode selects how a channel's baseline is obtained.
type BaselineMode int

const (
	BaselineNone     BaselineMode = iota // nothing subtracted
	BaselineFixed                        // caller supplied value
	BaselineComputed                     // mean of collected readings
)

func (m BaselineMode) String() string {
	switch m {
	case BaselineFixed:
		return "fixed"
	case BaselineComputed:
		return "computed"
	default:
		return "none"
	}
}

// Quantity names a derived value of a channel that thresholds can read.
type Quantity int

const (
	QuantityCurrent Quantity = iota
	QuantityAverage
	QuantityStdDev
)

func (q Quantity) String() string {
	switch q {
	case QuantityAverage:
		return "average"
	case QuantityStdDev:
		return "stddev"
	default:
		return "current"
	}
}

// ParseQuantity converts a configured name into a Quantity.
func ParseQuantity(s string) (Quantity, bool) {
	switch s {
	case "", "current", "cv":
		return QuantityCurrent, true
	case "average", "av":
		return QuantityAverage, true
	case "stddev", "sd":
		return QuantityStdDev, true
	}
	return QuantityCurrent, false
}

// Def describes a channel at registration time.
type Def struct {
	Name   string
	Short  string
	Units  string
	Output OutputLevel
	Trend  bool
}

// Channel is one numeric stream and its accumulated sums. All sums are
// relative to the baseline in effect when each value was observed.
type Channel struct {
	Name   string
	Short  string
	Units  string
	Output OutputLevel

	N       int
	Current float64
	SumX    float64
	SumX2   float64

	Trend bool
	SumT  float64
	SumXT float64
	SumT2 float64

	// Last values computed by Recompute.
	Average   float64
	StdDev    float64
	HasStdDev bool

	Baseline      BaselineMode
	BaselineValue float64
	baselineSum   float64
	baselineSumX2 float64
	baselineCount int

	Event int
}

// Trend is a least-squares line fitted to (time, value) pairs.
type Trend struct {
	Slope          float64
	ResidualStdDev float64
	StdErr         float64
}
