package report

import (
	"github.com/sweeney/field-logger/internal/logic"
	"github.com/sweeney/field-logger/internal/stats"
)

// ColumnKind identifies what a spreadsheet column holds.
type ColumnKind int

const (
	ColumnCurrent ColumnKind = iota
	ColumnAverage
	ColumnStdDev
	ColumnCount
	ColumnSlope
	ColumnResidual
	ColumnStdErr
	ColumnState
)

var columnSuffix = map[ColumnKind]string{
	ColumnCurrent:  "_cv",
	ColumnAverage:  "_av",
	ColumnStdDev:   "_sd",
	ColumnCount:    "_n",
	ColumnSlope:    "_dt",
	ColumnResidual: "_re",
	ColumnStdErr:   "_er",
	ColumnState:    "_st",
}

// Column is one spreadsheet column after the device code and count.
// Index refers to a channel, or to a tracker for ColumnState.
type Column struct {
	Kind  ColumnKind
	Index int
	Label string
}

// Plan lists the spreadsheet columns for the given layout. Header and
// data rows are both rendered from it.
func Plan(chans []stats.Channel, trackers []logic.Tracker) []Column {
	var cols []Column
	add := func(kind ColumnKind, idx int, short string) {
		cols = append(cols, Column{Kind: kind, Index: idx, Label: short + columnSuffix[kind]})
	}

	for i, c := range chans {
		if c.Output.ShowsCurrent() {
			add(ColumnCurrent, i, c.Short)
		}
		if c.Output.ShowsAverage() {
			add(ColumnAverage, i, c.Short)
		}
		if c.Output.ShowsStdDev() {
			add(ColumnStdDev, i, c.Short)
		}
		if c.Output.ShowsCount() {
			add(ColumnCount, i, c.Short)
		}
		if c.Trend {
			add(ColumnSlope, i, c.Short)
			add(ColumnResidual, i, c.Short)
			add(ColumnStdErr, i, c.Short)
		}
	}
	for i, t := range trackers {
		add(ColumnState, i, t.Short)
	}
	return cols
}
