package recurrence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/realty-crm/internal/model"
)

func baseAppointment(start, end time.Time) *model.Appointment {
	apt := &model.Appointment{
		Title:     "Property showing",
		AgentID:   uuid.New(),
		StartTime: start,
		EndTime:   end,
		Type:      model.AppointmentTypeShowing,
		Status:    model.AppointmentStatusScheduled,
	}
	apt.ID = uuid.New()
	return apt
}

func intPtr(n int) *int { return &n }

func wideWindow() (time.Time, time.Time) {
	return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestExpandMaxCountYieldsExactlyN(t *testing.T) {
	start := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	apt := baseAppointment(start, start.Add(time.Hour))
	rule := &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1, MaxCount: intPtr(7)}

	ws, we := wideWindow()
	exp, err := Expand(context.Background(), apt, rule, ws, we)
	require.NoError(t, err)

	assert.Len(t, exp.Occurrences, 7)
	assert.False(t, exp.Truncated)
	assert.Equal(t, start, exp.Occurrences[0].Start, "first occurrence is the base appointment")
	assert.Equal(t, start.AddDate(0, 0, 6), exp.Occurrences[6].Start)
}

func TestExpandIsIdempotent(t *testing.T) {
	start := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	apt := baseAppointment(start, start.Add(30*time.Minute))
	rule := &model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 2, MaxCount: intPtr(10)}

	ws, we := wideWindow()
	first, err := Expand(context.Background(), apt, rule, ws, we)
	require.NoError(t, err)
	second, err := Expand(context.Background(), apt, rule, ws, we)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestExpandWeeklyAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Weekly 9:00-10:00 starting the Monday before the 2024-03-10
	// spring-forward transition.
	start := time.Date(2024, time.March, 4, 9, 0, 0, 0, loc)
	apt := baseAppointment(start, start.Add(time.Hour))
	rule := &model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, MaxCount: intPtr(3)}

	ws, we := wideWindow()
	exp, expErr := Expand(context.Background(), apt, rule, ws, we)
	require.NoError(t, expErr)
	require.Len(t, exp.Occurrences, 3)

	for i, occ := range exp.Occurrences {
		assert.Equal(t, 9, occ.Start.Hour(), "occurrence %d must start at local 9:00", i)
		assert.Equal(t, time.Hour, occ.End.Sub(occ.Start), "occurrence %d must stay one hour long", i)
	}
	_, beforeOffset := exp.Occurrences[0].Start.Zone()
	_, afterOffset := exp.Occurrences[1].Start.Zone()
	assert.NotEqual(t, beforeOffset, afterOffset, "the transition must actually change the UTC offset")
}

func TestExpandWeeklyWithWeekdayOffsets(t *testing.T) {
	// Base on Tuesday 2025-03-04; rule covers Mon/Wed/Fri.
	start := time.Date(2025, time.March, 4, 14, 0, 0, 0, time.UTC)
	apt := baseAppointment(start, start.Add(time.Hour))
	rule := &model.RecurrenceRule{
		Frequency: model.FrequencyWeekly,
		Interval:  1,
		Weekdays:  []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		MaxCount:  intPtr(5),
	}

	ws, we := wideWindow()
	exp, err := Expand(context.Background(), apt, rule, ws, we)
	require.NoError(t, err)
	require.Len(t, exp.Occurrences, 5)

	// The Monday of the base week precedes the base start, so expansion
	// begins with that week's Wednesday.
	wantDays := []int{5, 7, 10, 12, 14}
	for i, occ := range exp.Occurrences {
		assert.Equal(t, wantDays[i], occ.Start.Day())
		assert.Equal(t, 14, occ.Start.Hour())
		assert.Equal(t, int64(i), occ.SequenceIndex)
	}
}

func TestExpandMonthlyClampsToMonthEnd(t *testing.T) {
	start := time.Date(2025, time.January, 31, 11, 0, 0, 0, time.UTC)
	apt := baseAppointment(start, start.Add(time.Hour))
	rule := &model.RecurrenceRule{Frequency: model.FrequencyMonthly, Interval: 1, MaxCount: intPtr(4)}

	ws, we := wideWindow()
	exp, err := Expand(context.Background(), apt, rule, ws, we)
	require.NoError(t, err)
	require.Len(t, exp.Occurrences, 4)

	assert.Equal(t, time.Date(2025, time.January, 31, 11, 0, 0, 0, time.UTC), exp.Occurrences[0].Start)
	assert.Equal(t, time.Date(2025, time.February, 28, 11, 0, 0, 0, time.UTC), exp.Occurrences[1].Start)
	assert.Equal(t, time.Date(2025, time.March, 31, 11, 0, 0, 0, time.UTC), exp.Occurrences[2].Start)
	assert.Equal(t, time.Date(2025, time.April, 30, 11, 0, 0, 0, time.UTC), exp.Occurrences[3].Start)
}

func TestExpandRespectsEndDate(t *testing.T) {
	start := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	endDate := start.AddDate(0, 0, 14)
	apt := baseAppointment(start, start.Add(time.Hour))
	rule := &model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, EndDate: &endDate}

	ws, we := wideWindow()
	exp, err := Expand(context.Background(), apt, rule, ws, we)
	require.NoError(t, err)

	assert.Len(t, exp.Occurrences, 3, "base plus two weeks, end date inclusive")
	assert.False(t, exp.Truncated)
}

func TestExpandSkipsExceptionsWithoutRenumbering(t *testing.T) {
	start := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	apt := baseAppointment(start, start.Add(time.Hour))
	rule := &model.RecurrenceRule{
		Frequency:  model.FrequencyDaily,
		Interval:   1,
		MaxCount:   intPtr(5),
		Exceptions: []int64{2},
	}

	ws, we := wideWindow()
	exp, err := Expand(context.Background(), apt, rule, ws, we)
	require.NoError(t, err)

	require.Len(t, exp.Occurrences, 4)
	var seqs []int64
	for _, occ := range exp.Occurrences {
		seqs = append(seqs, occ.SequenceIndex)
	}
	assert.Equal(t, []int64{0, 1, 3, 4}, seqs)
}

func TestExpandWindowClipsOutput(t *testing.T) {
	start := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	apt := baseAppointment(start, start.Add(time.Hour))
	rule := &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1, MaxCount: intPtr(30)}

	ws := start.AddDate(0, 0, 10)
	we := start.AddDate(0, 0, 13)
	exp, err := Expand(context.Background(), apt, rule, ws, we)
	require.NoError(t, err)

	require.Len(t, exp.Occurrences, 3)
	assert.Equal(t, int64(10), exp.Occurrences[0].SequenceIndex,
		"sequence indexes are stable regardless of the query window")
}

func TestExpandUnterminatedRuleHitsSafetyCap(t *testing.T) {
	start := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	apt := baseAppointment(start, start.Add(time.Hour))
	rule := &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1}

	ws, we := wideWindow()
	exp, err := Expand(context.Background(), apt, rule, ws, we)
	require.NoError(t, err, "hitting the cap is a defined truncation, not an error")

	assert.Len(t, exp.Occurrences, SafetyCap)
	assert.True(t, exp.Truncated)
}

func TestExpandCancellation(t *testing.T) {
	start := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	apt := baseAppointment(start, start.Add(time.Hour))
	rule := &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ws, we := wideWindow()
	_, err := Expand(ctx, apt, rule, ws, we)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExpandRejectsInvalidRules(t *testing.T) {
	start := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	apt := baseAppointment(start, start.Add(time.Hour))
	endDate := start.AddDate(0, 1, 0)
	ws, we := wideWindow()

	cases := []struct {
		name string
		rule *model.RecurrenceRule
	}{
		{"zero interval", &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 0}},
		{"negative interval", &model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: -2}},
		{"both terminations", &model.RecurrenceRule{
			Frequency: model.FrequencyDaily, Interval: 1, EndDate: &endDate, MaxCount: intPtr(3),
		}},
		{"unknown frequency", &model.RecurrenceRule{Frequency: model.Frequency("yearly"), Interval: 1}},
		{"weekdays on daily rule", &model.RecurrenceRule{
			Frequency: model.FrequencyDaily, Interval: 1, Weekdays: []time.Weekday{time.Monday},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Expand(context.Background(), apt, tc.rule, ws, we)
			assert.Error(t, err)
		})
	}
}
