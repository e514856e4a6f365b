package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/realty-crm/internal/model"
)

const deadlineColumns = `
	id, client_id, stage, appointment_id, user_id, due_at,
	last_notified_tier, deferred_tier, cleared_at, created_at, updated_at
`

func (r *deadlineRepository) Create(ctx context.Context, d *model.Deadline) error {
	query := `
		INSERT INTO deadlines (` + deadlineColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.ClientID, d.Stage, d.AppointmentID, d.UserID, d.DueAt,
		d.LastNotifiedTier, d.DeferredTier, d.ClearedAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deadline: %w", err)
	}
	return nil
}

func (r *deadlineRepository) Get(ctx context.Context, id uuid.UUID) (*model.Deadline, error) {
	query := `SELECT ` + deadlineColumns + ` FROM deadlines WHERE id = $1`

	var d model.Deadline
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		return nil, fmt.Errorf("failed to get deadline: %w", err)
	}
	return &d, nil
}

func (r *deadlineRepository) ReplaceForClient(ctx context.Context, d *model.Deadline) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE deadlines SET cleared_at = $1, updated_at = $1 WHERE client_id = $2 AND cleared_at IS NULL`,
			d.CreatedAt, d.ClientID,
		); err != nil {
			return fmt.Errorf("failed to clear previous deadline: %w", err)
		}

		query := `
			INSERT INTO deadlines (` + deadlineColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		if _, err := tx.ExecContext(ctx, query,
			d.ID, d.ClientID, d.Stage, d.AppointmentID, d.UserID, d.DueAt,
			d.LastNotifiedTier, d.DeferredTier, d.ClearedAt, d.CreatedAt, d.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create deadline: %w", err)
		}
		return nil
	})
}

func (r *deadlineRepository) ClearForClient(ctx context.Context, clientID uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deadlines SET cleared_at = $1, updated_at = $1 WHERE client_id = $2 AND cleared_at IS NULL`,
		at, clientID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear client deadlines: %w", err)
	}
	return nil
}

func (r *deadlineRepository) ClearForAppointment(ctx context.Context, appointmentID uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deadlines SET cleared_at = $1, updated_at = $1 WHERE appointment_id = $2 AND cleared_at IS NULL`,
		at, appointmentID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear appointment deadlines: %w", err)
	}
	return nil
}

func (r *deadlineRepository) ListOpen(ctx context.Context) ([]*model.Deadline, error) {
	query := `SELECT ` + deadlineColumns + ` FROM deadlines WHERE cleared_at IS NULL ORDER BY due_at ASC`

	var deadlines []*model.Deadline
	if err := r.db.SelectContext(ctx, &deadlines, query); err != nil {
		return nil, fmt.Errorf("failed to list open deadlines: %w", err)
	}
	return deadlines, nil
}

// CompareAndSetNotifiedTier is the race guard behind at-most-one notification
// per (deadline, tier): concurrent evaluations of the same deadline both
// compute the same expected value, so only one update can match.
func (r *deadlineRepository) CompareAndSetNotifiedTier(ctx context.Context, id uuid.UUID, expected *model.Tier, tier model.Tier) (bool, error) {
	query := `
		UPDATE deadlines
		SET last_notified_tier = $1, deferred_tier = NULL, updated_at = $2
		WHERE id = $3 AND last_notified_tier IS NOT DISTINCT FROM $4
	`
	result, err := r.db.ExecContext(ctx, query, tier, time.Now(), id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to set notified tier: %w", err)
	}
	return oneRow(result)
}

func (r *deadlineRepository) CompareAndSetDeferredTier(ctx context.Context, id uuid.UUID, expected, tier *model.Tier) (bool, error) {
	query := `
		UPDATE deadlines
		SET deferred_tier = $1, updated_at = $2
		WHERE id = $3 AND deferred_tier IS NOT DISTINCT FROM $4
	`
	result, err := r.db.ExecContext(ctx, query, tier, time.Now(), id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to set deferred tier: %w", err)
	}
	return oneRow(result)
}

func oneRow(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}
