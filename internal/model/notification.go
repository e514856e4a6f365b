package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
	ChannelInApp NotificationChannel = "in_app"
)

type NotificationCategory string

const (
	CategoryDeadline            NotificationCategory = "deadline"
	CategoryAppointmentReminder NotificationCategory = "appointment_reminder"
)

type FrequencyMode string

const (
	FrequencyImmediate FrequencyMode = "immediate"
	FrequencyDigest    FrequencyMode = "digest"
)

// QuietHours is a per-user window during which non-in-app channels are
// suppressed. Start and End are "HH:MM" wall-clock times in Timezone; a window
// with End before Start wraps past midnight.
type QuietHours struct {
	Enabled  bool   `db:"quiet_enabled" json:"enabled"`
	Start    string `db:"quiet_start" json:"start"`
	End      string `db:"quiet_end" json:"end"`
	Timezone string `db:"quiet_timezone" json:"timezone"`
}

// Contains reports whether now falls inside the window, evaluated in the
// configured timezone.
func (q QuietHours) Contains(now time.Time) (bool, error) {
	if !q.Enabled {
		return false, nil
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return false, fmt.Errorf("invalid quiet hours timezone %q: %w", q.Timezone, err)
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false, err
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	if start == end {
		return false, nil
	}
	if start < end {
		return minutes >= start && minutes < end, nil
	}
	// Overnight window, e.g. 22:00-07:00.
	return minutes >= start || minutes < end, nil
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return h*60 + m, nil
}

// NotificationPreference holds one user's channel flags for one category.
type NotificationPreference struct {
	UserID    uuid.UUID            `db:"user_id" json:"user_id"`
	Category  NotificationCategory `db:"category" json:"category"`
	Email     bool                 `db:"email_enabled" json:"email"`
	SMS       bool                 `db:"sms_enabled" json:"sms"`
	InApp     bool                 `db:"in_app_enabled" json:"in_app"`
	Frequency FrequencyMode        `db:"frequency" json:"frequency"`
	QuietHours
	EmailAddress string    `db:"email_address" json:"email_address,omitempty"`
	PhoneNumber  string    `db:"phone_number" json:"phone_number,omitempty"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ChannelsForTier derives the channel set a tier implies, intersected with
// the user's enabled channels. Overdue and Urgent escalate to SMS, Upcoming
// is email only, Normal never notifies. In-app rides along for every
// notifying tier when enabled.
func (p *NotificationPreference) ChannelsForTier(tier Tier) []NotificationChannel {
	var channels []NotificationChannel
	switch tier {
	case TierOverdue, TierUrgent:
		if p.Email {
			channels = append(channels, ChannelEmail)
		}
		if p.SMS {
			channels = append(channels, ChannelSMS)
		}
	case TierUpcoming:
		if p.Email {
			channels = append(channels, ChannelEmail)
		}
	default:
		return nil
	}
	if p.InApp {
		channels = append(channels, ChannelInApp)
	}
	return channels
}

// NotificationRequest is the dispatch contract handed to the notification
// dispatcher.
type NotificationRequest struct {
	Recipient uuid.UUID            `json:"recipient"`
	Category  NotificationCategory `json:"category"`
	Tier      Tier                 `json:"tier"`
	Channels  []NotificationChannel `json:"channels"`
	Payload   JSONMap              `json:"payload"`
}

// ChannelResult is the per-channel outcome of one dispatch.
type ChannelResult struct {
	Channel NotificationChannel
	Err     error
}

type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// NotificationDelivery is the internal delivery-status log row used for
// support and debugging; end users never see dispatch failures directly.
type NotificationDelivery struct {
	ID         uuid.UUID            `db:"id" json:"id"`
	DeadlineID uuid.UUID            `db:"deadline_id" json:"deadline_id"`
	UserID     uuid.UUID            `db:"user_id" json:"user_id"`
	Category   NotificationCategory `db:"category" json:"category"`
	Tier       Tier                 `db:"tier" json:"tier"`
	Channel    NotificationChannel  `db:"channel" json:"channel"`
	Status     DeliveryStatus       `db:"status" json:"status"`
	Attempts   int                  `db:"attempts" json:"attempts"`
	LastError  *string              `db:"last_error" json:"last_error,omitempty"`
	CreatedAt  time.Time            `db:"created_at" json:"created_at"`
}
