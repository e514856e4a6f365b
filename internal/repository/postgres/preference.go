package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/realty-crm/internal/model"
)

const preferenceColumns = `
	user_id, category, email_enabled, sms_enabled, in_app_enabled, frequency,
	quiet_enabled, quiet_start, quiet_end, quiet_timezone,
	email_address, phone_number, updated_at
`

func (r *preferenceRepository) Get(ctx context.Context, userID uuid.UUID, category model.NotificationCategory) (*model.NotificationPreference, error) {
	query := `SELECT ` + preferenceColumns + ` FROM notification_preferences WHERE user_id = $1 AND category = $2`

	var pref model.NotificationPreference
	if err := r.db.GetContext(ctx, &pref, query, userID, category); err != nil {
		return nil, fmt.Errorf("failed to get notification preference: %w", err)
	}
	return &pref, nil
}

func (r *preferenceRepository) Upsert(ctx context.Context, pref *model.NotificationPreference) error {
	query := `
		INSERT INTO notification_preferences (` + preferenceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, category) DO UPDATE SET
			email_enabled = EXCLUDED.email_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			in_app_enabled = EXCLUDED.in_app_enabled,
			frequency = EXCLUDED.frequency,
			quiet_enabled = EXCLUDED.quiet_enabled,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			quiet_timezone = EXCLUDED.quiet_timezone,
			email_address = EXCLUDED.email_address,
			phone_number = EXCLUDED.phone_number,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		pref.UserID, pref.Category, pref.Email, pref.SMS, pref.InApp, pref.Frequency,
		pref.Enabled, pref.Start, pref.End, pref.Timezone,
		pref.EmailAddress, pref.PhoneNumber, pref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert notification preference: %w", err)
	}
	return nil
}
