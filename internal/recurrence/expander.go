// Package recurrence expands recurring appointments into concrete occurrences.
// Expansion is pure: the same inputs always yield the same sequence, and every
// occurrence carries a stable sequence index so individual instances can be
// detached or cancelled without renumbering their siblings.
package recurrence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jwalitptl/realty-crm/internal/model"
)

// SafetyCap bounds expansion of rules that carry neither an end date nor a
// max count, so an open-ended rule can never generate unbounded work.
const SafetyCap = 500

// Expansion is the result of one expand call. Truncated is set when the
// safety cap stopped generation; it is a defined truncation, not an error.
type Expansion struct {
	Occurrences []model.Occurrence
	Truncated   bool
}

// Expand generates the occurrences of apt under rule that intersect
// [windowStart, windowEnd). Occurrence starts keep the base appointment's
// wall-clock time in its location, so a weekly 9:00 appointment stays at
// local 9:00 across DST transitions, and each occurrence preserves the base
// duration. Sequence indexes on the rule's exception list are skipped without
// renumbering. The context is checked each step so wide-window expansions can
// be abandoned by navigation-away cancellation.
func Expand(ctx context.Context, apt *model.Appointment, rule *model.RecurrenceRule, windowStart, windowEnd time.Time) (*Expansion, error) {
	if rule == nil {
		return nil, fmt.Errorf("appointment %s has no recurrence rule", apt.ID)
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recurrence rule: %w", err)
	}
	if !windowEnd.After(windowStart) {
		return nil, fmt.Errorf("expansion window end must be after start")
	}
	duration := apt.EndTime.Sub(apt.StartTime)
	if duration <= 0 {
		return nil, fmt.Errorf("appointment duration must be positive")
	}

	gen := newGenerator(apt.StartTime, rule)
	exp := &Expansion{}

	for seq := int64(0); ; seq++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seq >= SafetyCap {
			exp.Truncated = true
			break
		}
		if rule.MaxCount != nil && seq >= int64(*rule.MaxCount) {
			break
		}

		occStart := gen.next()
		if rule.EndDate != nil && occStart.After(*rule.EndDate) {
			break
		}
		if !occStart.Before(windowEnd) {
			break
		}
		if rule.Excluded(seq) {
			continue
		}

		occEnd := occStart.Add(duration)
		if occEnd.After(windowStart) {
			exp.Occurrences = append(exp.Occurrences, model.Occurrence{
				AppointmentID: apt.ID,
				SequenceIndex: seq,
				Start:         occStart,
				End:           occEnd,
			})
		}
	}

	return exp, nil
}

// generator yields successive candidate start times, earliest first, starting
// with the base start itself. All arithmetic is calendar arithmetic via
// time.Date normalization, never 24h multiples, so month lengths, leap years
// and DST offsets are handled by the location database.
type generator struct {
	base     time.Time
	loc      *time.Location
	rule     *model.RecurrenceRule
	weekdays []time.Weekday

	n    int // period counter for daily/monthly
	week int // week-block counter for weekly
	wi   int // index into weekdays within the current block
}

func newGenerator(base time.Time, rule *model.RecurrenceRule) *generator {
	g := &generator{base: base, loc: base.Location(), rule: rule}
	if rule.Frequency == model.FrequencyWeekly {
		if len(rule.Weekdays) > 0 {
			g.weekdays = append([]time.Weekday(nil), rule.Weekdays...)
			sort.Slice(g.weekdays, func(i, j int) bool { return g.weekdays[i] < g.weekdays[j] })
		} else {
			g.weekdays = []time.Weekday{base.Weekday()}
		}
	}
	return g
}

// dayAt rebuilds the base wall-clock time on the day offset by days from the
// base date.
func (g *generator) dayAt(days int) time.Time {
	y, m, d := g.base.Date()
	return time.Date(y, m, d+days, g.base.Hour(), g.base.Minute(), g.base.Second(), g.base.Nanosecond(), g.loc)
}

func (g *generator) next() time.Time {
	switch g.rule.Frequency {
	case model.FrequencyDaily:
		t := g.dayAt(g.n * g.rule.Interval)
		g.n++
		return t

	case model.FrequencyMonthly:
		y, m, d := g.base.Date()
		target := time.Date(y, m+time.Month(g.n*g.rule.Interval), 1, 0, 0, 0, 0, g.loc)
		g.n++
		// Clamp to the target month's length so a rule anchored on the 31st
		// does not drift into the following month.
		day := d
		if last := daysIn(target.Year(), target.Month(), g.loc); day > last {
			day = last
		}
		return time.Date(target.Year(), target.Month(), day,
			g.base.Hour(), g.base.Minute(), g.base.Second(), g.base.Nanosecond(), g.loc)

	case model.FrequencyWeekly:
		weekAnchor := -int(g.base.Weekday()) // offset to the Sunday of the base week
		for {
			if g.wi >= len(g.weekdays) {
				g.wi = 0
				g.week++
			}
			offset := weekAnchor + g.week*7*g.rule.Interval + int(g.weekdays[g.wi])
			g.wi++
			t := g.dayAt(offset)
			// Weekdays earlier in the base week than the base start do not
			// produce occurrences.
			if !t.Before(g.base) {
				return t
			}
		}
	}
	// Unreachable: Validate rejects other frequencies.
	panic(fmt.Sprintf("recurrence: unsupported frequency %q", g.rule.Frequency))
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
