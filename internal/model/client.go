package model

import (
	"time"

	"github.com/google/uuid"
)

type ClientStage string

const (
	ClientStageLead     ClientStage = "lead"
	ClientStageProspect ClientStage = "prospect"
	ClientStageClient   ClientStage = "client"
	ClientStageClosed   ClientStage = "closed"
)

var stageOrder = map[ClientStage]int{
	ClientStageLead:     0,
	ClientStageProspect: 1,
	ClientStageClient:   2,
	ClientStageClosed:   3,
}

func (s ClientStage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Order returns the position of the stage in the pipeline, -1 for unknown stages.
func (s ClientStage) Order() int {
	if o, ok := stageOrder[s]; ok {
		return o
	}
	return -1
}

type Client struct {
	Base
	Name           string      `db:"name" json:"name"`
	AgentID        uuid.UUID   `db:"agent_id" json:"agent_id"`
	Stage          ClientStage `db:"stage" json:"stage"`
	StageChangedAt time.Time   `db:"stage_changed_at" json:"stage_changed_at"`
	StageDeadline  *time.Time  `db:"stage_deadline" json:"stage_deadline,omitempty"`
}

// StageHistory is an immutable record of one stage transition. Regression is
// set when the transition moved backward in the pipeline, which callers must
// request explicitly as a correction.
type StageHistory struct {
	ID         uuid.UUID   `db:"id" json:"id"`
	ClientID   uuid.UUID   `db:"client_id" json:"client_id"`
	FromStage  ClientStage `db:"from_stage" json:"from_stage"`
	ToStage    ClientStage `db:"to_stage" json:"to_stage"`
	Regression bool        `db:"regression" json:"regression"`
	ActorID    uuid.UUID   `db:"actor_id" json:"actor_id"`
	Notes      *string     `db:"notes" json:"notes,omitempty"`
	Deadline   *time.Time  `db:"deadline" json:"deadline,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// StageTransitionRequest is the stage transition command. Correction must be
// set for backward transitions.
type StageTransitionRequest struct {
	ToStage    ClientStage `json:"to_stage" validate:"required,oneof=lead prospect client closed"`
	Notes      *string     `json:"notes" validate:"omitempty,max=2000"`
	Deadline   *time.Time  `json:"deadline"`
	Correction bool        `json:"correction"`
}
