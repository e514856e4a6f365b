package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentType string

const (
	AppointmentTypeShowing  AppointmentType = "showing"
	AppointmentTypeMeeting  AppointmentType = "meeting"
	AppointmentTypeCall     AppointmentType = "call"
	AppointmentTypeDeadline AppointmentType = "deadline"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case AppointmentTypeShowing, AppointmentTypeMeeting, AppointmentTypeCall, AppointmentTypeDeadline:
		return true
	}
	return false
}

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentStatusCompleted || s == AppointmentStatusCancelled
}

type Appointment struct {
	Base
	Title        string            `db:"title" json:"title"`
	Description  string            `db:"description" json:"description,omitempty"`
	Location     string            `db:"location" json:"location,omitempty"`
	AgentID      uuid.UUID         `db:"agent_id" json:"agent_id"`
	ClientID     *uuid.UUID        `db:"client_id" json:"client_id,omitempty"`
	StartTime    time.Time         `db:"start_time" json:"start_time"`
	EndTime      time.Time         `db:"end_time" json:"end_time"`
	Type         AppointmentType   `db:"type" json:"type"`
	Status       AppointmentStatus `db:"status" json:"status"`
	CancelReason *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
	Recurrence   *RecurrenceRule   `db:"-" json:"recurrence,omitempty"`

	// ParentID and SequenceIndex are set on occurrences that were detached
	// from a recurring appointment and persisted as standalone rows.
	ParentID      *uuid.UUID `db:"parent_id" json:"parent_id,omitempty"`
	SequenceIndex *int64     `db:"sequence_index" json:"sequence_index,omitempty"`

	CreatedBy uuid.UUID `db:"created_by" json:"created_by"`
}

// Recurring reports whether the appointment carries a recurrence rule.
func (a *Appointment) Recurring() bool {
	return a.Recurrence != nil
}

// Occurrence is one concrete instance of a recurring appointment. Virtual
// occurrences exist only as expansion output; detached ones are backed by a
// standalone Appointment row.
type Occurrence struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	SequenceIndex int64     `json:"sequence_index"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

type CreateAppointmentRequest struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	Location    string          `json:"location" validate:"max=500"`
	AgentID     uuid.UUID       `json:"agent_id" validate:"required"`
	ClientID    *uuid.UUID      `json:"client_id"`
	StartTime   time.Time       `json:"start_time" validate:"required"`
	EndTime     time.Time       `json:"end_time" validate:"required,gtfield=StartTime"`
	Type        AppointmentType `json:"type" validate:"required,oneof=showing meeting call deadline"`
	Recurrence  *RecurrenceRule `json:"recurrence"`
}

type UpdateAppointmentRequest struct {
	Title        *string            `json:"title"`
	Description  *string            `json:"description"`
	Location     *string            `json:"location"`
	Status       *AppointmentStatus `json:"status"`
	CancelReason *string            `json:"cancel_reason"`
}

// MoveAppointmentRequest is the drag-and-drop move command. Backfill is the
// administrative override that permits a past-dated start.
type MoveAppointmentRequest struct {
	NewStart time.Time `json:"new_start" validate:"required"`
	Backfill bool      `json:"backfill"`
}

type AppointmentFilters struct {
	AgentID   uuid.UUID
	ClientID  uuid.UUID
	Status    AppointmentStatus
	Type      AppointmentType
	StartDate time.Time
	EndDate   time.Time
}
