// Package deadline classifies deadline urgency. Classify is the single source
// of truth for tiers, used both by UI badges and by the escalation scheduler.
package deadline

import (
	"time"

	"github.com/jwalitptl/realty-crm/internal/model"
)

const (
	urgentWindow   = 24 * time.Hour
	upcomingWindow = 72 * time.Hour
)

// Classify maps a due instant and the current time to an urgency tier.
// Boundaries are half-open: a deadline exactly 24h out is Upcoming, not
// Urgent, and one due exactly now is Urgent, not Overdue.
func Classify(due, now time.Time) model.Tier {
	remaining := due.Sub(now)
	switch {
	case remaining < 0:
		return model.TierOverdue
	case remaining < urgentWindow:
		return model.TierUrgent
	case remaining < upcomingWindow:
		return model.TierUpcoming
	default:
		return model.TierNormal
	}
}
