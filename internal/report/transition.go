package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/sweeney/field-logger/internal/clock"
	"github.com/sweeney/field-logger/internal/logic"
)

func millis(m clock.Millis) string {
	return strconv.FormatUint(uint64(m), 10)
}

// TransitionHeader writes the column labels of the event file.
func (f *Formatter) TransitionHeader(w io.Writer) error {
	var sb strings.Builder
	r := f.newRow(&sb)
	for _, label := range []string{
		f.DeviceCode, "count", "EVENT", "eventName", "Direction", "State",
		"tStart", "tEnd", "Duration", "Count", "fullName",
	} {
		r.cell(label)
	}
	r.end()
	return write(w, &sb)
}

// Transition writes the FROM and TO rows of the tracker's last
// transition followed by a blank line.
func (f *Formatter) Transition(w io.Writer, t logic.Tracker, count int) error {
	var sb strings.Builder
	r := f.newRow(&sb)
	entered := t.StateStarted[t.State]

	f.eventRow(r, t, count, "FROM", t.PriorState, t.StateStarted[t.PriorState], entered)
	f.eventRow(r, t, count, "TO", t.State, entered, entered)
	sb.WriteByte('\n')

	return write(w, &sb)
}

func (f *Formatter) eventRow(r *row, t logic.Tracker, count int, dir string, state int, start, end clock.Millis) {
	r.cell(f.DeviceCode)
	r.cell(strconv.Itoa(count))
	r.cell("EVENT")
	r.cell(t.Short)
	r.cell(dir)
	r.cell(t.Label(state))
	r.cell(millis(start))
	r.cell(millis(end))
	r.cell(millis(t.StateDuration))
	r.cell(strconv.Itoa(t.StateCount[state]))
	r.cell(t.Name)
	r.end()
}

// TransitionText writes the console notice for the tracker's last
// transition.
func (f *Formatter) TransitionText(w io.Writer, t logic.Tracker) error {
	var sb strings.Builder
	sb.WriteString("EVENT: millis = ")
	sb.WriteString(millis(t.LastChange))
	sb.WriteString(" event ")
	sb.WriteString(t.Name)
	sb.WriteString(" ----------------------------------------------\n")
	sb.WriteString("FROM state = ")
	sb.WriteString(t.PriorLabel())
	sb.WriteString("\nTO state = ")
	sb.WriteString(t.CurrentLabel())
	sb.WriteString(" previous state duration = ")
	sb.WriteString(millis(t.StateDuration))
	sb.WriteByte('\n')
	return write(w, &sb)
}
