package appointment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/realty-crm/internal/model"
	"github.com/jwalitptl/realty-crm/internal/recurrence"
	"github.com/jwalitptl/realty-crm/internal/repository"
	"github.com/jwalitptl/realty-crm/internal/schedule"
	apperrors "github.com/jwalitptl/realty-crm/pkg/errors"
	"github.com/jwalitptl/realty-crm/pkg/logger"
	"github.com/jwalitptl/realty-crm/pkg/metrics"
)

// Service owns appointment lifecycle and is the single authoritative write
// path for start/end mutation. All conflict decisions go through the shared
// ConflictIndex so a successful move never leaves the index stale.
type Service struct {
	repo      repository.AppointmentRepository
	deadlines repository.DeadlineRepository
	index     *schedule.ConflictIndex
	logger    *logger.Logger
	metrics   *metrics.Metrics

	now func() time.Time
}

func NewService(repo repository.AppointmentRepository, deadlines repository.DeadlineRepository, index *schedule.ConflictIndex, l *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:      repo,
		deadlines: deadlines,
		index:     index,
		logger:    l,
		metrics:   m,
		now:       time.Now,
	}
}

// WarmIndex loads every scheduled appointment into the conflict index. Called
// once at startup before the service takes traffic.
func (s *Service) WarmIndex(ctx context.Context) error {
	appointments, err := s.repo.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm conflict index: %w", err)
	}
	for _, apt := range appointments {
		s.index.Insert(apt.AgentID, apt.ID, apt.StartTime, apt.EndTime)
	}
	s.logger.Info("conflict index warmed", "appointments", len(appointments))
	return nil
}

func (s *Service) Create(ctx context.Context, req *model.CreateAppointmentRequest, createdBy uuid.UUID) (*model.Appointment, error) {
	if !req.EndTime.After(req.StartTime) {
		return nil, apperrors.Validation("appointment end must be after start", nil)
	}
	if !req.Type.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown appointment type %q", req.Type), nil)
	}
	if req.Recurrence != nil {
		if err := req.Recurrence.Validate(); err != nil {
			return nil, apperrors.Validation("invalid recurrence rule", err)
		}
	}

	now := s.now()
	apt := &model.Appointment{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		AgentID:     req.AgentID,
		ClientID:    req.ClientID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Type:        req.Type,
		Status:      model.AppointmentStatusScheduled,
		Recurrence:  req.Recurrence,
		CreatedBy:   createdBy,
	}
	apt.ID = uuid.New()
	apt.CreatedAt = now
	apt.UpdatedAt = now

	conflicts, ok := s.index.Reserve(apt.AgentID, apt.ID, apt.StartTime, apt.EndTime)
	if !ok {
		s.metrics.ConflictChecks.WithLabelValues("conflict").Inc()
		return nil, apperrors.Conflict("appointment overlaps an existing booking", conflicts)
	}
	s.metrics.ConflictChecks.WithLabelValues("clear").Inc()

	if err := s.repo.Create(ctx, apt); err != nil {
		s.index.Remove(apt.AgentID, apt.ID)
		return nil, apperrors.Internal(err)
	}

	if apt.Type == model.AppointmentTypeDeadline {
		if err := s.createAppointmentDeadline(ctx, apt, now); err != nil {
			s.logger.Error(err, "failed to create deadline for appointment", "appointment_id", apt.ID.String())
		}
	}

	return apt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("appointment", err)
		}
		return nil, apperrors.Internal(err)
	}
	return apt, nil
}

func (s *Service) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	appointments, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return appointments, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req *model.UpdateAppointmentRequest) (*model.Appointment, error) {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if apt.Status.Terminal() {
		return nil, apperrors.Validation(fmt.Sprintf("appointment is %s and cannot be modified", apt.Status), nil)
	}

	if req.Title != nil {
		apt.Title = *req.Title
	}
	if req.Description != nil {
		apt.Description = *req.Description
	}
	if req.Location != nil {
		apt.Location = *req.Location
	}
	if req.Status != nil {
		switch *req.Status {
		case model.AppointmentStatusCancelled:
			// Field edits in the same request land with the transition.
			return s.finish(ctx, apt, model.AppointmentStatusCancelled, req.CancelReason)
		case model.AppointmentStatusCompleted:
			return s.finish(ctx, apt, model.AppointmentStatusCompleted, nil)
		case model.AppointmentStatusScheduled:
			// No-op for an already scheduled appointment.
		default:
			return nil, apperrors.Validation(fmt.Sprintf("unknown status %q", *req.Status), nil)
		}
	}

	apt.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, apt); err != nil {
		return nil, apperrors.Internal(err)
	}
	return apt, nil
}

// Cancel tombstones the appointment. Terminal states do not revert, and a
// cancelled deadline-type appointment must not leave a stale open deadline.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*model.Appointment, error) {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, apt, model.AppointmentStatusCancelled, &reason)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, apt, model.AppointmentStatusCompleted, nil)
}

func (s *Service) finish(ctx context.Context, apt *model.Appointment, status model.AppointmentStatus, reason *string) (*model.Appointment, error) {
	if apt.Status.Terminal() {
		return nil, apperrors.Validation(fmt.Sprintf("appointment is already %s", apt.Status), nil)
	}

	apt.Status = status
	apt.CancelReason = reason
	apt.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, apt); err != nil {
		return nil, apperrors.Internal(err)
	}

	s.index.Remove(apt.AgentID, apt.ID)

	if apt.Type == model.AppointmentTypeDeadline {
		if err := s.deadlines.ClearForAppointment(ctx, apt.ID, apt.UpdatedAt); err != nil {
			s.logger.Error(err, "failed to clear deadline for finished appointment", "appointment_id", apt.ID.String())
		}
	}
	return apt, nil
}

// Delete hard-deletes a cancelled appointment and cascades to occurrences
// that were detached from it.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if apt.Status != model.AppointmentStatusCancelled {
		return apperrors.Validation("only cancelled appointments can be deleted", nil)
	}

	if err := s.repo.DeleteDetachedOccurrences(ctx, id); err != nil {
		return apperrors.Internal(err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return apperrors.Internal(err)
	}
	s.index.Remove(apt.AgentID, apt.ID)
	return nil
}

// MoveCheck is the result of a non-committing move preview. The caller
// decides whether to prompt before committing.
type MoveCheck struct {
	NewStart  time.Time   `json:"new_start"`
	NewEnd    time.Time   `json:"new_end"`
	Conflicts []uuid.UUID `json:"conflicts"`
}

// Preview reports what Move would do without committing anything.
func (s *Service) Preview(ctx context.Context, id uuid.UUID, newStart time.Time) (*MoveCheck, error) {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	newEnd := newStart.Add(apt.EndTime.Sub(apt.StartTime))
	return &MoveCheck{
		NewStart:  newStart,
		NewEnd:    newEnd,
		Conflicts: s.index.Overlapping(apt.AgentID, newStart, newEnd, apt.ID),
	}, nil
}

// Move applies the drag-and-drop command: new start, same duration. The
// conflict check and index update are one atomic reservation, and the row
// update either commits or the reservation is rolled back, so a move is never
// partially applied.
func (s *Service) Move(ctx context.Context, id uuid.UUID, req *model.MoveAppointmentRequest) (*model.Appointment, error) {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if apt.Status.Terminal() {
		s.metrics.MovesRejected.WithLabelValues("terminal").Inc()
		return nil, apperrors.Validation(fmt.Sprintf("appointment is %s and cannot be moved", apt.Status), nil)
	}
	if !req.Backfill && req.NewStart.Before(s.now()) {
		s.metrics.MovesRejected.WithLabelValues("past").Inc()
		return nil, apperrors.Validation("cannot move an appointment into the past", nil)
	}

	oldStart, oldEnd := apt.StartTime, apt.EndTime
	newEnd := req.NewStart.Add(oldEnd.Sub(oldStart))

	// Both slots stay held until the row update resolves; a concurrent
	// reservation can take neither the old slot nor the new one in between.
	res, conflicts, ok := s.index.BeginMove(apt.AgentID, apt.ID, req.NewStart, newEnd)
	if !ok {
		s.metrics.MovesRejected.WithLabelValues("conflict").Inc()
		return nil, apperrors.Conflict("move collides with existing appointments", conflicts)
	}

	if err := s.repo.UpdateTimes(ctx, apt.ID, req.NewStart, newEnd); err != nil {
		res.Abort()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("appointment", err)
		}
		return nil, apperrors.Internal(err)
	}
	res.Commit()

	apt.StartTime = req.NewStart
	apt.EndTime = newEnd
	apt.UpdatedAt = s.now()
	s.metrics.MovesCommitted.Inc()

	if apt.Type == model.AppointmentTypeDeadline {
		if err := s.replaceAppointmentDeadline(ctx, apt); err != nil {
			s.logger.Error(err, "failed to reset deadline after move", "appointment_id", apt.ID.String())
		}
	}
	return apt, nil
}

// MoveOccurrence detaches one generated occurrence of a recurring appointment
// and moves the detached copy, leaving its siblings untouched. The detached
// appointment is independent from then on; the parent rule's end date no
// longer constrains it.
func (s *Service) MoveOccurrence(ctx context.Context, parentID uuid.UUID, seq int64, req *model.MoveAppointmentRequest) (*model.Appointment, error) {
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Status.Terminal() {
		s.metrics.MovesRejected.WithLabelValues("terminal").Inc()
		return nil, apperrors.Validation(fmt.Sprintf("appointment is %s and cannot be modified", parent.Status), nil)
	}
	if !parent.Recurring() {
		return nil, apperrors.Validation("appointment has no recurrence rule", nil)
	}
	if parent.Recurrence.Excluded(seq) {
		return nil, apperrors.Validation(fmt.Sprintf("occurrence %d is already detached or cancelled", seq), nil)
	}

	occ, err := s.findOccurrence(ctx, parent, seq)
	if err != nil {
		return nil, err
	}
	if !req.Backfill && req.NewStart.Before(s.now()) {
		s.metrics.MovesRejected.WithLabelValues("past").Inc()
		return nil, apperrors.Validation("cannot move an occurrence into the past", nil)
	}

	now := s.now()
	newEnd := req.NewStart.Add(occ.End.Sub(occ.Start))

	detached := &model.Appointment{
		Title:         parent.Title,
		Description:   parent.Description,
		Location:      parent.Location,
		AgentID:       parent.AgentID,
		ClientID:      parent.ClientID,
		StartTime:     req.NewStart,
		EndTime:       newEnd,
		Type:          parent.Type,
		Status:        model.AppointmentStatusScheduled,
		ParentID:      &parent.ID,
		SequenceIndex: &seq,
		CreatedBy:     parent.CreatedBy,
	}
	detached.ID = uuid.New()
	detached.CreatedAt = now
	detached.UpdatedAt = now

	conflicts, ok := s.index.Reserve(detached.AgentID, detached.ID, detached.StartTime, detached.EndTime)
	if !ok {
		s.metrics.MovesRejected.WithLabelValues("conflict").Inc()
		return nil, apperrors.Conflict("move collides with existing appointments", conflicts)
	}

	if err := s.repo.Create(ctx, detached); err != nil {
		s.index.Remove(detached.AgentID, detached.ID)
		return nil, apperrors.Internal(err)
	}
	if err := s.repo.AddRecurrenceException(ctx, parent.ID, seq); err != nil {
		if delErr := s.repo.Delete(ctx, detached.ID); delErr != nil {
			s.logger.Error(delErr, "failed to undo detached occurrence", "appointment_id", detached.ID.String())
		}
		s.index.Remove(detached.AgentID, detached.ID)
		return nil, apperrors.Internal(err)
	}

	s.metrics.MovesCommitted.Inc()
	return detached, nil
}

func (s *Service) findOccurrence(ctx context.Context, parent *model.Appointment, seq int64) (*model.Occurrence, error) {
	// Expand without an upper window bound beyond the safety cap; the
	// occurrence keeps its stable index regardless of the query window.
	windowEnd := parent.StartTime.AddDate(100, 0, 0)
	exp, err := recurrence.Expand(ctx, parent, parent.Recurrence, parent.StartTime, windowEnd)
	if err != nil {
		return nil, apperrors.Validation("invalid recurrence rule", err)
	}
	for i := range exp.Occurrences {
		if exp.Occurrences[i].SequenceIndex == seq {
			return &exp.Occurrences[i], nil
		}
	}
	return nil, apperrors.NotFound("occurrence", nil)
}

func (s *Service) createAppointmentDeadline(ctx context.Context, apt *model.Appointment, now time.Time) error {
	return s.deadlines.Create(ctx, &model.Deadline{
		ID:            uuid.New(),
		AppointmentID: &apt.ID,
		UserID:        apt.AgentID,
		DueAt:         apt.StartTime,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// replaceAppointmentDeadline swaps the deadline for a moved deadline-type
// appointment. The new due instant resets the notified tier.
func (s *Service) replaceAppointmentDeadline(ctx context.Context, apt *model.Appointment) error {
	if err := s.deadlines.ClearForAppointment(ctx, apt.ID, apt.UpdatedAt); err != nil {
		return err
	}
	return s.createAppointmentDeadline(ctx, apt, apt.UpdatedAt)
}
