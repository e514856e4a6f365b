package model

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the urgency classification of a deadline relative to now.
type Tier string

const (
	TierNormal   Tier = "normal"
	TierUpcoming Tier = "upcoming"
	TierUrgent   Tier = "urgent"
	TierOverdue  Tier = "overdue"
)

var tierRank = map[Tier]int{
	TierNormal:   0,
	TierUpcoming: 1,
	TierUrgent:   2,
	TierOverdue:  3,
}

// Rank orders tiers by urgency: Overdue > Urgent > Upcoming > Normal.
func (t Tier) Rank() int {
	return tierRank[t]
}

// MoreUrgentThan reports whether t is strictly more urgent than prev.
// A nil prev means no tier has been notified yet.
func (t Tier) MoreUrgentThan(prev *Tier) bool {
	if prev == nil {
		return t.Rank() > TierNormal.Rank()
	}
	return t.Rank() > prev.Rank()
}

// Deadline is an open obligation owned by either a client pipeline stage or a
// deadline-type appointment. LastNotifiedTier only ever moves toward greater
// urgency for a given due instant; replacing the due instant resets it.
// DeferredTier records a tier whose email/SMS channels were suppressed by
// quiet hours and are still owed.
type Deadline struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	ClientID         *uuid.UUID   `db:"client_id" json:"client_id,omitempty"`
	Stage            *ClientStage `db:"stage" json:"stage,omitempty"`
	AppointmentID    *uuid.UUID   `db:"appointment_id" json:"appointment_id,omitempty"`
	UserID           uuid.UUID    `db:"user_id" json:"user_id"`
	DueAt            time.Time    `db:"due_at" json:"due_at"`
	LastNotifiedTier *Tier        `db:"last_notified_tier" json:"last_notified_tier,omitempty"`
	DeferredTier     *Tier        `db:"deferred_tier" json:"deferred_tier,omitempty"`
	ClearedAt        *time.Time   `db:"cleared_at" json:"cleared_at,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// Open reports whether the deadline still participates in escalation.
func (d *Deadline) Open() bool {
	return d.ClearedAt == nil
}
