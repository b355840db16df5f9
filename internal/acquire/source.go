package acquire

import (
	"github.com/sweeney/field-logger/internal/clock"
	"github.com/sweeney/field-logger/internal/errors"
	"github.com/sweeney/field-logger/internal/gpio"
	"github.com/sweeney/field-logger/internal/sim"
)

// source produces raw readings for one channel.
type source interface {
	Read(now clock.Millis) (float64, error)
}

type simSource struct {
	sensor *sim.Sensor
}

func (s simSource) Read(now clock.Millis) (float64, error) {
	return s.sensor.Read(now), nil
}

// pinSource reads a digital input as 0 or 1.
type pinSource struct {
	pins gpio.Pins
	pin  int
}

func (s pinSource) Read(clock.Millis) (float64, error) {
	level, err := s.pins.ReadDigital(s.pin)
	if err != nil {
		return 0, errors.New().Wrap(errors.ErrPinUnavailable, err)
	}
	return float64(level), nil
}
