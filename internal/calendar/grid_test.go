package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMonthCellsCoverFullWeeks(t *testing.T) {
	// February 2025 starts on a Saturday and ends on a Friday.
	cells, err := Grid{}.Cells(day(2025, time.February, 14), ViewMonth)
	require.NoError(t, err)

	require.NotEmpty(t, cells)
	assert.Equal(t, day(2025, time.January, 26), cells[0], "grid starts on the Sunday before the 1st")
	assert.Equal(t, day(2025, time.March, 1), cells[len(cells)-1], "grid ends on the Saturday after the last day")
	assert.Equal(t, time.Sunday, cells[0].Weekday())
	assert.Equal(t, time.Saturday, cells[len(cells)-1].Weekday())
	assert.Zero(t, len(cells)%7)
}

func TestMonthCellsLeapYear(t *testing.T) {
	cells, err := Grid{}.Cells(day(2024, time.February, 1), ViewMonth)
	require.NoError(t, err)

	seen := false
	for _, c := range cells {
		if c.Equal(day(2024, time.February, 29)) {
			seen = true
		}
	}
	assert.True(t, seen, "leap day must appear in the February 2024 grid")
}

func TestMonthCellsAreOrderedAndDistinct(t *testing.T) {
	cells, err := Grid{}.Cells(day(2025, time.July, 31), ViewMonth)
	require.NoError(t, err)

	for i := 1; i < len(cells); i++ {
		assert.True(t, cells[i].After(cells[i-1]), "cells must be strictly increasing")
		assert.Equal(t, cells[i-1].AddDate(0, 0, 1), cells[i], "cells must be consecutive days")
	}
}

func TestWeekCells(t *testing.T) {
	// 2025-03-12 is a Wednesday.
	cells, err := Grid{}.Cells(day(2025, time.March, 12), ViewWeek)
	require.NoError(t, err)

	require.Len(t, cells, 7)
	assert.Equal(t, day(2025, time.March, 9), cells[0])
	assert.Equal(t, day(2025, time.March, 15), cells[6])
}

func TestWeekCellsMondayStart(t *testing.T) {
	cells, err := Grid{WeekStart: time.Monday}.Cells(day(2025, time.March, 12), ViewWeek)
	require.NoError(t, err)

	require.Len(t, cells, 7)
	assert.Equal(t, day(2025, time.March, 10), cells[0])
	assert.Equal(t, time.Monday, cells[0].Weekday())
}

func TestWeekCellsAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// The US spring-forward transition was on Sunday 2024-03-10.
	ref := time.Date(2024, time.March, 12, 0, 0, 0, 0, loc)
	cells, gridErr := Grid{}.Cells(ref, ViewWeek)
	require.NoError(t, gridErr)

	require.Len(t, cells, 7)
	for i, c := range cells {
		assert.Equal(t, 0, c.Hour(), "cell %d must stay at local midnight across the DST change", i)
	}
	assert.Equal(t, 16, cells[6].Day())
}

func TestCellsRejectsUnknownView(t *testing.T) {
	_, err := Grid{}.Cells(day(2025, time.March, 12), View("quarter"))
	assert.Error(t, err)
}
