package model

import (
	"fmt"
	"time"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// RecurrenceRule is a practical subset of iCalendar RRULE semantics: a
// frequency stepped by Interval, an optional weekday set for weekly rules,
// and at most one termination form. Exceptions holds sequence indexes of
// occurrences that were detached or cancelled individually and must not be
// regenerated.
type RecurrenceRule struct {
	Frequency  Frequency      `json:"frequency"`
	Interval   int            `json:"interval"`
	Weekdays   []time.Weekday `json:"weekdays,omitempty"`
	EndDate    *time.Time     `json:"end_date,omitempty"`
	MaxCount   *int           `json:"max_count,omitempty"`
	Exceptions []int64        `json:"exceptions,omitempty"`
}

// Validate enforces rule invariants at creation time so that expansion can
// assume a well-formed rule.
func (r *RecurrenceRule) Validate() error {
	if !r.Frequency.Valid() {
		return fmt.Errorf("unsupported frequency %q", r.Frequency)
	}
	if r.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %d", r.Interval)
	}
	if r.EndDate != nil && r.MaxCount != nil {
		return fmt.Errorf("end_date and max_count are mutually exclusive")
	}
	if r.MaxCount != nil && *r.MaxCount <= 0 {
		return fmt.Errorf("max_count must be positive, got %d", *r.MaxCount)
	}
	for _, day := range r.Weekdays {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("invalid weekday %d", day)
		}
	}
	if len(r.Weekdays) > 0 && r.Frequency != FrequencyWeekly {
		return fmt.Errorf("weekday set is only valid for weekly rules")
	}
	return nil
}

// Excluded reports whether the given sequence index is on the exception list.
func (r *RecurrenceRule) Excluded(seq int64) bool {
	for _, e := range r.Exceptions {
		if e == seq {
			return true
		}
	}
	return false
}
