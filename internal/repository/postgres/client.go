package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/realty-crm/internal/model"
)

func (r *clientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	query := `
		SELECT id, name, agent_id, stage, stage_changed_at, stage_deadline,
			   created_at, updated_at, deleted_at
		FROM clients
		WHERE id = $1 AND deleted_at IS NULL
	`
	var client model.Client
	if err := r.db.GetContext(ctx, &client, query, id); err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &client, nil
}

func (r *clientRepository) UpdateStage(ctx context.Context, client *model.Client) error {
	query := `
		UPDATE clients
		SET stage = $1, stage_changed_at = $2, stage_deadline = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := r.db.ExecContext(ctx, query,
		client.Stage, client.StageChangedAt, client.StageDeadline, client.UpdatedAt, client.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update client stage: %w", err)
	}
	return requireRow(result)
}

func (r *clientRepository) AppendStageHistory(ctx context.Context, h *model.StageHistory) error {
	query := `
		INSERT INTO stage_history (
			id, client_id, from_stage, to_stage, regression,
			actor_id, notes, deadline, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		h.ID, h.ClientID, h.FromStage, h.ToStage, h.Regression,
		h.ActorID, h.Notes, h.Deadline, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append stage history: %w", err)
	}
	return nil
}

func (r *clientRepository) ListStageHistory(ctx context.Context, clientID uuid.UUID) ([]*model.StageHistory, error) {
	query := `
		SELECT id, client_id, from_stage, to_stage, regression,
			   actor_id, notes, deadline, created_at
		FROM stage_history
		WHERE client_id = $1
		ORDER BY created_at DESC
	`
	var history []*model.StageHistory
	if err := r.db.SelectContext(ctx, &history, query, clientID); err != nil {
		return nil, fmt.Errorf("failed to list stage history: %w", err)
	}
	return history, nil
}
