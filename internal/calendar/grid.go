package calendar

import (
	"fmt"
	"time"
)

// View selects the calendar layout to generate cells for.
type View string

const (
	ViewMonth View = "month"
	ViewWeek  View = "week"
)

func (v View) Valid() bool {
	return v == ViewMonth || v == ViewWeek
}

// Grid produces the ordered cell dates backing a calendar view. It is pure:
// no I/O, no shared state.
type Grid struct {
	// WeekStart is the first weekday of a grid row. US calendars start on
	// Sunday, which is the zero value.
	WeekStart time.Weekday
}

// Cells returns the ordered, deduplicated sequence of day cells for the view
// containing ref. Month views cover the full weeks intersecting the month, so
// they always begin on a week boundary at or before the 1st and end on a week
// boundary after the last day. Week views are exactly 7 consecutive days.
// Every cell is midnight in ref's location; day stepping uses calendar
// arithmetic so DST days do not shift subsequent cells.
func (g Grid) Cells(ref time.Time, view View) ([]time.Time, error) {
	switch view {
	case ViewWeek:
		start := g.startOfWeek(ref)
		cells := make([]time.Time, 0, 7)
		for d := 0; d < 7; d++ {
			cells = append(cells, start.AddDate(0, 0, d))
		}
		return cells, nil
	case ViewMonth:
		loc := ref.Location()
		first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, loc)
		last := first.AddDate(0, 1, -1)
		start := g.startOfWeek(first)
		end := g.startOfWeek(last).AddDate(0, 0, 7)

		cells := make([]time.Time, 0, 42)
		for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
			cells = append(cells, d)
		}
		return cells, nil
	default:
		return nil, fmt.Errorf("unsupported calendar view %q", view)
	}
}

func (g Grid) startOfWeek(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) - int(g.WeekStart) + 7) % 7
	return day.AddDate(0, 0, -offset)
}
