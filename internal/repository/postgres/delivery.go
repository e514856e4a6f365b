package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/realty-crm/internal/model"
)

func (r *deliveryRepository) Create(ctx context.Context, d *model.NotificationDelivery) error {
	query := `
		INSERT INTO notification_deliveries (
			id, deadline_id, user_id, category, tier, channel,
			status, attempts, last_error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.DeadlineID, d.UserID, d.Category, d.Tier, d.Channel,
		d.Status, d.Attempts, d.LastError, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery record: %w", err)
	}
	return nil
}

func (r *deliveryRepository) ListForDeadline(ctx context.Context, deadlineID uuid.UUID) ([]*model.NotificationDelivery, error) {
	query := `
		SELECT id, deadline_id, user_id, category, tier, channel,
			   status, attempts, last_error, created_at
		FROM notification_deliveries
		WHERE deadline_id = $1
		ORDER BY created_at DESC
	`
	var deliveries []*model.NotificationDelivery
	if err := r.db.SelectContext(ctx, &deliveries, query, deadlineID); err != nil {
		return nil, fmt.Errorf("failed to list delivery records: %w", err)
	}
	return deliveries, nil
}
