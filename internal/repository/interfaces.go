package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/realty-crm/internal/model"
)

// All repository interfaces in one file
type (
	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Update(ctx context.Context, appointment *model.Appointment) error
		// UpdateTimes is the single write path for start/end mutation, used
		// exclusively by the reschedule coordinator.
		UpdateTimes(ctx context.Context, id uuid.UUID, start, end time.Time) error
		Delete(ctx context.Context, id uuid.UUID) error
		// DeleteDetachedOccurrences removes standalone rows that were
		// detached from the given parent, for hard-delete cascade.
		DeleteDetachedOccurrences(ctx context.Context, parentID uuid.UUID) error
		List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)
		// ListScheduled returns every non-terminal appointment, used to warm
		// the conflict index at startup.
		ListScheduled(ctx context.Context) ([]*model.Appointment, error)
		AddRecurrenceException(ctx context.Context, id uuid.UUID, seq int64) error
	}

	DeadlineRepository interface {
		Create(ctx context.Context, deadline *model.Deadline) error
		Get(ctx context.Context, id uuid.UUID) (*model.Deadline, error)
		// ReplaceForClient clears any open deadline owned by the client and
		// inserts the new one in a single transaction.
		ReplaceForClient(ctx context.Context, deadline *model.Deadline) error
		ClearForClient(ctx context.Context, clientID uuid.UUID, at time.Time) error
		ClearForAppointment(ctx context.Context, appointmentID uuid.UUID, at time.Time) error
		ListOpen(ctx context.Context) ([]*model.Deadline, error)
		// CompareAndSetNotifiedTier atomically advances last_notified_tier
		// from expected to tier; it returns false when another tick got
		// there first.
		CompareAndSetNotifiedTier(ctx context.Context, id uuid.UUID, expected *model.Tier, tier model.Tier) (bool, error)
		// CompareAndSetDeferredTier atomically swaps deferred_tier from
		// expected to tier (nil clears it).
		CompareAndSetDeferredTier(ctx context.Context, id uuid.UUID, expected, tier *model.Tier) (bool, error)
	}

	ClientRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Client, error)
		UpdateStage(ctx context.Context, client *model.Client) error
		AppendStageHistory(ctx context.Context, history *model.StageHistory) error
		ListStageHistory(ctx context.Context, clientID uuid.UUID) ([]*model.StageHistory, error)
	}

	PreferenceRepository interface {
		Get(ctx context.Context, userID uuid.UUID, category model.NotificationCategory) (*model.NotificationPreference, error)
		Upsert(ctx context.Context, pref *model.NotificationPreference) error
	}

	DeliveryRepository interface {
		Create(ctx context.Context, delivery *model.NotificationDelivery) error
		ListForDeadline(ctx context.Context, deadlineID uuid.UUID) ([]*model.NotificationDelivery, error)
	}
)
