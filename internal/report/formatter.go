// Package report renders channel statistics and event transitions as
// delimited text. Every record is assembled in memory and handed to the
// writer in a single Write.
package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/sweeney/field-logger/internal/errors"
	"github.com/sweeney/field-logger/internal/logic"
	"github.com/sweeney/field-logger/internal/stats"
)

// NotAvailable is printed in place of a value that cannot be computed.
const NotAvailable = "N/A"

// DefaultSeparator is the column separator when none is configured.
const DefaultSeparator = "\t"

// Formatter renders records for one device.
type Formatter struct {
	DeviceName string
	DeviceCode string
	Separator  string
}

// New creates a Formatter. An empty separator selects a tab.
func New(deviceName, deviceCode, separator string) *Formatter {
	if separator == "" {
		separator = DefaultSeparator
	}
	return &Formatter{DeviceName: deviceName, DeviceCode: deviceCode, Separator: separator}
}

type row struct {
	sb  *strings.Builder
	sep string
	n   int
}

func (r *row) cell(s string) {
	if r.n > 0 {
		r.sb.WriteString(r.sep)
	}
	r.sb.WriteString(s)
	r.n++
}

func (r *row) end() {
	r.sb.WriteByte('\n')
	r.n = 0
}

func (f *Formatter) newRow(sb *strings.Builder) *row {
	return &row{sb: sb, sep: f.Separator}
}

func write(w io.Writer, sb *strings.Builder) error {
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return errors.New().Wrap(errors.ErrSinkUnavailable, err)
	}
	return nil
}

// FormatFloat renders v with two decimals.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// SummaryTable writes the human-readable statistics table.
func (f *Formatter) SummaryTable(w io.Writer, chans []stats.Channel) error {
	var sb strings.Builder
	r := f.newRow(&sb)

	sb.WriteString("\n---- Sample Data Summary for Device = ")
	sb.WriteString(f.DeviceName)
	sb.WriteString(" ------------------------\n")

	r.cell("DataNames")
	for _, c := range chans {
		r.cell(c.Short)
	}
	r.end()

	r.cell("DataUnits")
	for _, c := range chans {
		r.cell(c.Units)
	}
	r.end()

	r.cell("CurrentData")
	for _, c := range chans {
		r.cell(FormatFloat(c.Current))
	}
	r.end()

	r.cell("AverageData")
	for _, c := range chans {
		r.cell(FormatFloat(c.Mean()))
	}
	r.end()

	r.cell("StandardDev")
	for _, c := range chans {
		r.cell(stdDevCell(c))
	}
	r.end()

	r.cell("SampleSize")
	for _, c := range chans {
		r.cell(strconv.Itoa(c.N))
	}
	r.end()

	return write(w, &sb)
}

// Spreadsheet writes one delimited row, either the header (column
// labels) or the current values of every planned column.
func (f *Formatter) Spreadsheet(w io.Writer, chans []stats.Channel, trackers []logic.Tracker, count int, header bool) error {
	var sb strings.Builder
	r := f.newRow(&sb)

	r.cell(f.DeviceCode)
	if header {
		r.cell("count")
	} else {
		r.cell(strconv.Itoa(count))
	}

	trends := make(map[int]*stats.Trend)
	for _, col := range Plan(chans, trackers) {
		if header {
			r.cell(col.Label)
			continue
		}
		r.cell(f.value(col, chans, trackers, trends))
	}
	r.end()

	return write(w, &sb)
}

func (f *Formatter) value(col Column, chans []stats.Channel, trackers []logic.Tracker, trends map[int]*stats.Trend) string {
	if col.Kind == ColumnState {
		return strconv.Itoa(trackers[col.Index].State)
	}

	c := chans[col.Index]
	switch col.Kind {
	case ColumnCurrent:
		return FormatFloat(c.Current)
	case ColumnAverage:
		return FormatFloat(c.Mean())
	case ColumnStdDev:
		return stdDevCell(c)
	case ColumnCount:
		return strconv.Itoa(c.N)
	}

	tr, ok := trends[col.Index]
	if !ok {
		if fit, err := c.FitTrend(); err == nil {
			tr = &fit
		}
		trends[col.Index] = tr
	}
	if tr == nil {
		return NotAvailable
	}
	switch col.Kind {
	case ColumnSlope:
		return FormatFloat(tr.Slope)
	case ColumnResidual:
		return FormatFloat(tr.ResidualStdDev)
	default:
		return FormatFloat(tr.StdErr)
	}
}

func stdDevCell(c stats.Channel) string {
	sd, err := c.SampleStdDev()
	if err != nil {
		return NotAvailable
	}
	return FormatFloat(sd)
}
