package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/realty-crm/internal/model"
	"github.com/jwalitptl/realty-crm/internal/repository"
	apperrors "github.com/jwalitptl/realty-crm/pkg/errors"
	"github.com/jwalitptl/realty-crm/pkg/logger"
)

// Service moves clients through the sales pipeline. Transitions normally flow
// forward (lead, prospect, client, closed); moving backward is an explicit
// correction and is recorded as such in the history.
type Service struct {
	clients   repository.ClientRepository
	deadlines repository.DeadlineRepository
	logger    *logger.Logger

	now func() time.Time
}

func NewService(clients repository.ClientRepository, deadlines repository.DeadlineRepository, l *logger.Logger) *Service {
	return &Service{
		clients:   clients,
		deadlines: deadlines,
		logger:    l,
		now:       time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	client, err := s.clients.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("client", err)
		}
		return nil, apperrors.Internal(err)
	}
	return client, nil
}

// Transition moves the client to the requested stage. An explicit deadline on
// the request replaces any open deadline for the client with a fresh one, so
// the escalation tier starts over for the new due instant. Reaching the
// closed stage clears whatever deadline is still open.
func (s *Service) Transition(ctx context.Context, clientID, actorID uuid.UUID, req *model.StageTransitionRequest) (*model.Client, error) {
	if !req.ToStage.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown stage %q", req.ToStage), nil)
	}

	client, err := s.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.Stage == req.ToStage {
		return nil, apperrors.Validation(fmt.Sprintf("client is already in stage %q", req.ToStage), nil)
	}

	regression := req.ToStage.Order() < client.Stage.Order()
	if regression && !req.Correction {
		return nil, apperrors.Validation(
			fmt.Sprintf("transition from %q to %q moves backward; set correction to confirm", client.Stage, req.ToStage), nil)
	}

	now := s.now()
	from := client.Stage

	client.Stage = req.ToStage
	client.StageChangedAt = now
	client.StageDeadline = req.Deadline
	client.UpdatedAt = now

	if err := s.clients.UpdateStage(ctx, client); err != nil {
		return nil, apperrors.Internal(err)
	}

	history := &model.StageHistory{
		ID:         uuid.New(),
		ClientID:   client.ID,
		FromStage:  from,
		ToStage:    req.ToStage,
		Regression: regression,
		ActorID:    actorID,
		Notes:      req.Notes,
		Deadline:   req.Deadline,
		CreatedAt:  now,
	}
	if err := s.clients.AppendStageHistory(ctx, history); err != nil {
		// The stage change itself committed; a missing history row is worth
		// an alert but not a rollback.
		s.logger.Error(err, "failed to append stage history", "client_id", client.ID.String())
	}

	if err := s.syncDeadline(ctx, client, req, now); err != nil {
		s.logger.Error(err, "failed to sync stage deadline", "client_id", client.ID.String())
	}

	return client, nil
}

func (s *Service) History(ctx context.Context, clientID uuid.UUID) ([]*model.StageHistory, error) {
	history, err := s.clients.ListStageHistory(ctx, clientID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return history, nil
}

func (s *Service) syncDeadline(ctx context.Context, client *model.Client, req *model.StageTransitionRequest, now time.Time) error {
	if client.Stage == model.ClientStageClosed {
		return s.deadlines.ClearForClient(ctx, client.ID, now)
	}
	if req.Deadline == nil {
		return nil
	}
	stage := client.Stage
	return s.deadlines.ReplaceForClient(ctx, &model.Deadline{
		ID:        uuid.New(),
		ClientID:  &client.ID,
		Stage:     &stage,
		UserID:    client.AgentID,
		DueAt:     *req.Deadline,
		CreatedAt: now,
		UpdatedAt: now,
	})
}
