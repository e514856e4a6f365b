package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/realty-crm/internal/calendar"
	"github.com/jwalitptl/realty-crm/internal/model"
	"github.com/jwalitptl/realty-crm/internal/recurrence"
	"github.com/jwalitptl/realty-crm/internal/repository"
	apperrors "github.com/jwalitptl/realty-crm/pkg/errors"
	"github.com/jwalitptl/realty-crm/pkg/metrics"
)

// ViewResult is one rendered calendar view: the day cells backing the layout
// plus every occurrence falling inside them. Truncated is set when any
// recurrence expansion hit its safety cap inside the window.
type ViewResult struct {
	View        calendar.View      `json:"view"`
	Cells       []time.Time        `json:"cells"`
	Occurrences []model.Occurrence `json:"occurrences"`
	Truncated   bool               `json:"truncated"`
}

// Service renders calendar views by laying the agent's appointments over the
// grid, expanding recurring ones on the fly. Virtual occurrences are never
// stored; the view window is the only expansion driver.
type Service struct {
	repo    repository.AppointmentRepository
	grid    calendar.Grid
	metrics *metrics.Metrics
}

func NewService(repo repository.AppointmentRepository, grid calendar.Grid, m *metrics.Metrics) *Service {
	return &Service{repo: repo, grid: grid, metrics: m}
}

func (s *Service) Render(ctx context.Context, agentID uuid.UUID, ref time.Time, view calendar.View) (*ViewResult, error) {
	cells, err := s.grid.Cells(ref, view)
	if err != nil {
		return nil, apperrors.Validation(err.Error(), nil)
	}

	windowStart := cells[0]
	windowEnd := cells[len(cells)-1].AddDate(0, 0, 1)

	appointments, err := s.repo.List(ctx, &model.AppointmentFilters{
		AgentID: agentID,
		Status:  model.AppointmentStatusScheduled,
	})
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	result := &ViewResult{
		View:        view,
		Cells:       cells,
		Occurrences: []model.Occurrence{},
	}

	for _, apt := range appointments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !apt.Recurring() {
			if apt.StartTime.Before(windowEnd) && apt.EndTime.After(windowStart) {
				result.Occurrences = append(result.Occurrences, model.Occurrence{
					AppointmentID: apt.ID,
					SequenceIndex: sequenceOf(apt),
					Start:         apt.StartTime,
					End:           apt.EndTime,
				})
			}
			continue
		}

		exp, err := recurrence.Expand(ctx, apt, apt.Recurrence, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		s.metrics.ExpansionLength.Observe(float64(len(exp.Occurrences)))
		result.Occurrences = append(result.Occurrences, exp.Occurrences...)
		result.Truncated = result.Truncated || exp.Truncated
	}

	return result, nil
}

func sequenceOf(apt *model.Appointment) int64 {
	if apt.SequenceIndex != nil {
		return *apt.SequenceIndex
	}
	return 0
}
