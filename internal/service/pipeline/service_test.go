package pipeline

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/realty-crm/internal/model"
	apperrors "github.com/jwalitptl/realty-crm/pkg/errors"
	"github.com/jwalitptl/realty-crm/pkg/logger"
)

type fakeClientRepo struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*model.Client
	history []*model.StageHistory
}

func newFakeClientRepo() *fakeClientRepo {
	return &fakeClientRepo{clients: make(map[uuid.UUID]*model.Client)}
}

func (r *fakeClientRepo) Get(_ context.Context, id uuid.UUID) (*model.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (r *fakeClientRepo) UpdateStage(_ context.Context, client *model.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *client
	r.clients[client.ID] = &cp
	return nil
}

func (r *fakeClientRepo) AppendStageHistory(_ context.Context, h *model.StageHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, h)
	return nil
}

func (r *fakeClientRepo) ListStageHistory(_ context.Context, clientID uuid.UUID) ([]*model.StageHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.StageHistory
	for _, h := range r.history {
		if h.ClientID == clientID {
			out = append(out, h)
		}
	}
	return out, nil
}

type fakeDeadlineRepo struct {
	mu       sync.Mutex
	replaced []*model.Deadline
	cleared  []uuid.UUID
}

func (r *fakeDeadlineRepo) Create(_ context.Context, d *model.Deadline) error {
	return r.ReplaceForClient(context.Background(), d)
}

func (r *fakeDeadlineRepo) Get(context.Context, uuid.UUID) (*model.Deadline, error) {
	return nil, sql.ErrNoRows
}

func (r *fakeDeadlineRepo) ReplaceForClient(_ context.Context, d *model.Deadline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaced = append(r.replaced, d)
	return nil
}

func (r *fakeDeadlineRepo) ClearForClient(_ context.Context, clientID uuid.UUID, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, clientID)
	return nil
}

func (r *fakeDeadlineRepo) ClearForAppointment(context.Context, uuid.UUID, time.Time) error {
	return nil
}

func (r *fakeDeadlineRepo) ListOpen(context.Context) ([]*model.Deadline, error) { return nil, nil }

func (r *fakeDeadlineRepo) CompareAndSetNotifiedTier(context.Context, uuid.UUID, *model.Tier, model.Tier) (bool, error) {
	return true, nil
}

func (r *fakeDeadlineRepo) CompareAndSetDeferredTier(context.Context, uuid.UUID, *model.Tier, *model.Tier) (bool, error) {
	return true, nil
}

var testNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, stage model.ClientStage) (*Service, *fakeClientRepo, *fakeDeadlineRepo, *model.Client) {
	t.Helper()
	clients := newFakeClientRepo()
	deadlines := &fakeDeadlineRepo{}

	client := &model.Client{
		Name:    "Dana Whitfield",
		AgentID: uuid.New(),
		Stage:   stage,
	}
	client.ID = uuid.New()
	clients.clients[client.ID] = client

	svc := NewService(clients, deadlines, logger.NewLogger(nil))
	svc.now = func() time.Time { return testNow }
	return svc, clients, deadlines, client
}

func TestTransitionForward(t *testing.T) {
	svc, clients, _, client := newTestService(t, model.ClientStageLead)
	actor := uuid.New()

	updated, err := svc.Transition(context.Background(), client.ID, actor, &model.StageTransitionRequest{
		ToStage: model.ClientStageProspect,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ClientStageProspect, updated.Stage)
	assert.True(t, updated.StageChangedAt.Equal(testNow))

	require.Len(t, clients.history, 1)
	h := clients.history[0]
	assert.Equal(t, model.ClientStageLead, h.FromStage)
	assert.Equal(t, model.ClientStageProspect, h.ToStage)
	assert.False(t, h.Regression)
	assert.Equal(t, actor, h.ActorID)
}

func TestTransitionSkippingStagesAllowed(t *testing.T) {
	svc, _, _, client := newTestService(t, model.ClientStageLead)

	updated, err := svc.Transition(context.Background(), client.ID, uuid.New(), &model.StageTransitionRequest{
		ToStage: model.ClientStageClient,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ClientStageClient, updated.Stage)
}

func TestTransitionBackwardRequiresCorrection(t *testing.T) {
	svc, clients, _, client := newTestService(t, model.ClientStageClient)

	_, err := svc.Transition(context.Background(), client.ID, uuid.New(), &model.StageTransitionRequest{
		ToStage: model.ClientStageLead,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
	assert.Empty(t, clients.history)

	updated, err := svc.Transition(context.Background(), client.ID, uuid.New(), &model.StageTransitionRequest{
		ToStage:    model.ClientStageLead,
		Correction: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ClientStageLead, updated.Stage)
	require.Len(t, clients.history, 1)
	assert.True(t, clients.history[0].Regression)
}

func TestTransitionSameStageRejected(t *testing.T) {
	svc, _, _, client := newTestService(t, model.ClientStageProspect)

	_, err := svc.Transition(context.Background(), client.ID, uuid.New(), &model.StageTransitionRequest{
		ToStage: model.ClientStageProspect,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestTransitionWithDeadlineReplacesOpenDeadline(t *testing.T) {
	svc, _, deadlines, client := newTestService(t, model.ClientStageLead)
	due := testNow.Add(7 * 24 * time.Hour)

	_, err := svc.Transition(context.Background(), client.ID, uuid.New(), &model.StageTransitionRequest{
		ToStage:  model.ClientStageProspect,
		Deadline: &due,
	})
	require.NoError(t, err)

	require.Len(t, deadlines.replaced, 1)
	d := deadlines.replaced[0]
	assert.Equal(t, client.ID, *d.ClientID)
	assert.Equal(t, model.ClientStageProspect, *d.Stage)
	assert.Equal(t, client.AgentID, d.UserID)
	assert.True(t, d.DueAt.Equal(due))
	assert.Nil(t, d.LastNotifiedTier)
}

func TestTransitionWithoutDeadlineLeavesDeadlineAlone(t *testing.T) {
	svc, _, deadlines, client := newTestService(t, model.ClientStageLead)

	_, err := svc.Transition(context.Background(), client.ID, uuid.New(), &model.StageTransitionRequest{
		ToStage: model.ClientStageProspect,
	})
	require.NoError(t, err)
	assert.Empty(t, deadlines.replaced)
	assert.Empty(t, deadlines.cleared)
}

func TestTransitionToClosedClearsDeadline(t *testing.T) {
	svc, _, deadlines, client := newTestService(t, model.ClientStageClient)

	_, err := svc.Transition(context.Background(), client.ID, uuid.New(), &model.StageTransitionRequest{
		ToStage: model.ClientStageClosed,
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{client.ID}, deadlines.cleared)
	assert.Empty(t, deadlines.replaced)
}

func TestTransitionUnknownClient(t *testing.T) {
	svc, _, _, _ := newTestService(t, model.ClientStageLead)

	_, err := svc.Transition(context.Background(), uuid.New(), uuid.New(), &model.StageTransitionRequest{
		ToStage: model.ClientStageProspect,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}
