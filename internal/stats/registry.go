package stats

import (
	"github.com/rs/zerolog"

	"github.com/sweeney/field-logger/internal/errors"
)

// Registry owns a fixed arena of channels. Indices returned by Register
// are the only handles; an index outside [0, Len()) is a programming
// error and panics.
type Registry struct {
	channels [MaxChannels]Channel
	n        int
	log      zerolog.Logger
}

// NewRegistry creates an empty registry that reports diagnostics to log.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{log: log}
}

// Register adds a channel and returns its index. Over-length names are
// rejected individually and logged; the channel is still created.
func (r *Registry) Register(def Def) (int, error) {
	if r.n == MaxChannels {
		r.log.Warn().Int("capacity", MaxChannels).Str("short", def.Short).Msg("too many data streams")
		return -1, errors.New().WithData(errors.ErrCapacity, MaxChannels)
	}

	output := def.Output
	if !output.Valid() {
		r.log.Warn().Int("output", int(def.Output)).Str("short", def.Short).Msg("unknown output level, using all")
		output = OutputAll
	}

	idx := r.n
	r.n++
	r.channels[idx] = Channel{
		Name:   r.bounded("data name", def.Name, MaxName),
		Short:  r.bounded("data nickname", def.Short, MaxShort),
		Units:  r.bounded("data units", def.Units, MaxUnits),
		Output: output,
		Trend:  def.Trend,
		Event:  NoEvent,
	}
	return idx, nil
}

func (r *Registry) bounded(field, value string, max int) string {
	if err := CheckName(field, value, max); err != nil {
		r.log.Warn().Str("field", field).Str("value", value).Int("max", max).Msg(err.Error())
		return ""
	}
	return value
}

// CheckName returns an ErrNameTooLong error when value exceeds max runes.
func CheckName(field, value string, max int) error {
	if n := len([]rune(value)); n > max {
		return errors.New().WithData(errors.ErrNameTooLong, struct {
			Field  string
			Length int
			Max    int
		}{field, n, max})
	}
	return nil
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	return r.n
}

// Channel returns a copy of channel i.
func (r *Registry) Channel(i int) Channel {
	return *r.at(i)
}

// Channels returns a copy of all registered channels in registration order.
func (r *Registry) Channels() []Channel {
	out := make([]Channel, r.n)
	copy(out, r.channels[:r.n])
	return out
}

// Lookup finds a channel by short name.
func (r *Registry) Lookup(short string) (int, bool) {
	for i := 0; i < r.n; i++ {
		if r.channels[i].Short == short && short != "" {
			return i, true
		}
	}
	return -1, false
}

func (r *Registry) at(i int) *Channel {
	if i < 0 || i >= r.n {
		panic(errors.New().WithData(errors.ErrIndexOutOfRange, struct {
			Index int
			Len   int
		}{i, r.n}))
	}
	return &r.channels[i]
}

// Observe adds one reading. relTime is only accumulated when trend
// tracking is enabled for the channel.
func (r *Registry) Observe(i int, raw, relTime float64) error {
	c := r.at(i)
	if !finite(raw) || !finite(relTime) {
		return errors.New().WithData(errors.ErrInvalidArgument, struct {
			Short string
			Raw   float64
			Time  float64
		}{c.Short, raw, relTime})
	}

	v := raw - c.BaselineValue
	c.Current = v
	c.SumX += v
	c.SumX2 += v * v
	if c.Trend {
		c.SumT += relTime
		c.SumXT += v * relTime
		c.SumT2 += relTime * relTime
	}
	c.N++
	return nil
}

// Recompute refreshes the stored average and standard deviation of
// channel i. A negative variance is logged and returned; the channel then
// reports no standard deviation.
func (r *Registry) Recompute(i int) error {
	c := r.at(i)
	c.Average = c.Mean()

	sd, err := c.SampleStdDev()
	if err != nil {
		c.StdDev = 0
		c.HasStdDev = false
		if errors.HasCode(err, errors.ErrNumericInstability) {
			r.log.Warn().Str("short", c.Short).Int("index", i).Msg("negative variance")
			return err
		}
		return nil
	}
	c.StdDev = sd
	c.HasStdDev = true
	return nil
}

// RecomputeAll refreshes every channel and joins any instability errors.
func (r *Registry) RecomputeAll() error {
	var errs []error
	for i := 0; i < r.n; i++ {
		if err := r.Recompute(i); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Trend returns the fitted trend of channel i.
func (r *Registry) Trend(i int) (Trend, error) {
	c := r.at(i)
	tr, err := c.FitTrend()
	if errors.HasCode(err, errors.ErrNumericInstability) {
		r.log.Warn().Str("short", c.Short).Int("index", i).Msg("negative trend residual")
	}
	return tr, err
}

// Value returns a derived quantity of channel i as last recomputed. The
// bool is false when the quantity is not available.
func (r *Registry) Value(i int, q Quantity) (float64, bool) {
	c := r.at(i)
	switch q {
	case QuantityAverage:
		return c.Average, true
	case QuantityStdDev:
		return c.StdDev, c.HasStdDev
	default:
		return c.Current, true
	}
}

// Reset clears the sample count and sums of channel i. Identity,
// configuration, baseline and last derived values are kept.
func (r *Registry) Reset(i int) {
	c := r.at(i)
	c.N = 0
	c.SumX = 0
	c.SumX2 = 0
	c.SumT = 0
	c.SumXT = 0
	c.SumT2 = 0
}

// ResetAll clears every channel.
func (r *Registry) ResetAll() {
	for i := 0; i < r.n; i++ {
		r.Reset(i)
	}
}

// EnableTrend turns trend tracking on or off. Sums are reset so the time
// sums never disagree with N.
func (r *Registry) EnableTrend(i int, on bool) {
	c := r.at(i)
	if c.Trend == on {
		return
	}
	c.Trend = on
	r.Reset(i)
}

// SetBaseline fixes the value subtracted from every later reading.
func (r *Registry) SetBaseline(i int, v float64) error {
	c := r.at(i)
	if !finite(v) {
		return errors.New().WithData(errors.ErrInvalidArgument, v)
	}
	c.Baseline = BaselineFixed
	c.BaselineValue = v
	return nil
}

// ClearBaseline stops subtracting a baseline.
func (r *Registry) ClearBaseline(i int) {
	c := r.at(i)
	c.Baseline = BaselineNone
	c.BaselineValue = 0
	c.baselineSum = 0
	c.baselineSumX2 = 0
	c.baselineCount = 0
}

// AccumulateBaseline collects a raw reading toward a computed baseline.
// The subtracted baseline does not change until FinishBaseline.
func (r *Registry) AccumulateBaseline(i int, raw float64) error {
	c := r.at(i)
	if !finite(raw) {
		return errors.New().WithData(errors.ErrInvalidArgument, raw)
	}
	c.Baseline = BaselineComputed
	c.baselineSum += raw
	c.baselineSumX2 += raw * raw
	c.baselineCount++
	return nil
}

// BaselineSamples returns how many readings have been collected toward a
// computed baseline.
func (r *Registry) BaselineSamples(i int) int {
	return r.at(i).baselineCount
}

// FinishBaseline sets the baseline of channel i to the mean of the
// collected readings and returns it.
func (r *Registry) FinishBaseline(i int) (float64, error) {
	c := r.at(i)
	if c.baselineCount == 0 {
		return 0, errors.New().WithData(errors.ErrUnavailable, "no baseline samples")
	}
	c.Baseline = BaselineComputed
	c.BaselineValue = c.baselineSum / float64(c.baselineCount)

	ev := r.log.Info().Str("short", c.Short).Float64("baseline", c.BaselineValue).Int("samples", c.baselineCount)
	if sd, err := c.BaselineStdDev(); err == nil {
		ev = ev.Float64("stddev", sd)
	}
	ev.Msg("baseline computed")
	return c.BaselineValue, nil
}

// LinkEvent records the tracker that evaluates channel i.
func (r *Registry) LinkEvent(i, event int) {
	r.at(i).Event = event
}

// Mean is a convenience for the current SumX/N of channel i.
func (r *Registry) Mean(i int) float64 {
	return r.at(i).Mean()
}
