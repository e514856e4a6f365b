package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/realty-crm/internal/model"
)

const appointmentColumns = `
	id, title, description, location, agent_id, client_id,
	start_time, end_time, type, status, cancel_reason,
	recurrence_freq, recurrence_interval, recurrence_weekdays,
	recurrence_end_date, recurrence_max_count, recurrence_exceptions,
	parent_id, sequence_index, created_by, created_at, updated_at
`

// appointmentRow flattens the optional recurrence rule into nullable columns.
type appointmentRow struct {
	ID           uuid.UUID               `db:"id"`
	Title        string                  `db:"title"`
	Description  string                  `db:"description"`
	Location     string                  `db:"location"`
	AgentID      uuid.UUID               `db:"agent_id"`
	ClientID     *uuid.UUID              `db:"client_id"`
	StartTime    time.Time               `db:"start_time"`
	EndTime      time.Time               `db:"end_time"`
	Type         model.AppointmentType   `db:"type"`
	Status       model.AppointmentStatus `db:"status"`
	CancelReason *string                 `db:"cancel_reason"`

	RecurrenceFreq       *string        `db:"recurrence_freq"`
	RecurrenceInterval   *int           `db:"recurrence_interval"`
	RecurrenceWeekdays   pq.Int64Array  `db:"recurrence_weekdays"`
	RecurrenceEndDate    *time.Time     `db:"recurrence_end_date"`
	RecurrenceMaxCount   *int           `db:"recurrence_max_count"`
	RecurrenceExceptions pq.Int64Array  `db:"recurrence_exceptions"`

	ParentID      *uuid.UUID `db:"parent_id"`
	SequenceIndex *int64     `db:"sequence_index"`
	CreatedBy     uuid.UUID  `db:"created_by"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

func (row *appointmentRow) toModel() *model.Appointment {
	apt := &model.Appointment{
		Title:         row.Title,
		Description:   row.Description,
		Location:      row.Location,
		AgentID:       row.AgentID,
		ClientID:      row.ClientID,
		StartTime:     row.StartTime,
		EndTime:       row.EndTime,
		Type:          row.Type,
		Status:        row.Status,
		CancelReason:  row.CancelReason,
		ParentID:      row.ParentID,
		SequenceIndex: row.SequenceIndex,
		CreatedBy:     row.CreatedBy,
	}
	apt.ID = row.ID
	apt.CreatedAt = row.CreatedAt
	apt.UpdatedAt = row.UpdatedAt

	if row.RecurrenceFreq != nil {
		rule := &model.RecurrenceRule{
			Frequency:  model.Frequency(*row.RecurrenceFreq),
			EndDate:    row.RecurrenceEndDate,
			MaxCount:   row.RecurrenceMaxCount,
			Exceptions: []int64(row.RecurrenceExceptions),
		}
		if row.RecurrenceInterval != nil {
			rule.Interval = *row.RecurrenceInterval
		}
		for _, wd := range row.RecurrenceWeekdays {
			rule.Weekdays = append(rule.Weekdays, time.Weekday(wd))
		}
		apt.Recurrence = rule
	}
	return apt
}

func ruleColumns(apt *model.Appointment) (freq *string, interval *int, weekdays pq.Int64Array, endDate *time.Time, maxCount *int, exceptions pq.Int64Array) {
	if apt.Recurrence == nil {
		return nil, nil, nil, nil, nil, nil
	}
	f := string(apt.Recurrence.Frequency)
	freq = &f
	interval = &apt.Recurrence.Interval
	for _, wd := range apt.Recurrence.Weekdays {
		weekdays = append(weekdays, int64(wd))
	}
	endDate = apt.Recurrence.EndDate
	maxCount = apt.Recurrence.MaxCount
	exceptions = pq.Int64Array(apt.Recurrence.Exceptions)
	return
}

func (r *appointmentRepository) Create(ctx context.Context, apt *model.Appointment) error {
	query := `
		INSERT INTO appointments (` + appointmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`
	freq, interval, weekdays, endDate, maxCount, exceptions := ruleColumns(apt)

	_, err := r.db.ExecContext(ctx, query,
		apt.ID, apt.Title, apt.Description, apt.Location, apt.AgentID, apt.ClientID,
		apt.StartTime, apt.EndTime, apt.Type, apt.Status, apt.CancelReason,
		freq, interval, weekdays, endDate, maxCount, exceptions,
		apt.ParentID, apt.SequenceIndex, apt.CreatedBy, apt.CreatedAt, apt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var row appointmentRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return row.toModel(), nil
}

func (r *appointmentRepository) Update(ctx context.Context, apt *model.Appointment) error {
	query := `
		UPDATE appointments
		SET title = $1, description = $2, location = $3, status = $4,
			cancel_reason = $5, updated_at = $6
		WHERE id = $7
	`
	result, err := r.db.ExecContext(ctx, query,
		apt.Title, apt.Description, apt.Location, apt.Status,
		apt.CancelReason, apt.UpdatedAt, apt.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	return requireRow(result)
}

func (r *appointmentRepository) UpdateTimes(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	query := `
		UPDATE appointments
		SET start_time = $1, end_time = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query, start, end, time.Now(), id, model.AppointmentStatusScheduled)
	if err != nil {
		return fmt.Errorf("failed to update appointment times: %w", err)
	}
	return requireRow(result)
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	return requireRow(result)
}

func (r *appointmentRepository) DeleteDetachedOccurrences(ctx context.Context, parentID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM appointments WHERE parent_id = $1`, parentID)
	if err != nil {
		return fmt.Errorf("failed to delete detached occurrences: %w", err)
	}
	return nil
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filters.AgentID != uuid.Nil {
		query += fmt.Sprintf(" AND agent_id = $%d", argCount)
		args = append(args, filters.AgentID)
		argCount++
	}
	if filters.ClientID != uuid.Nil {
		query += fmt.Sprintf(" AND client_id = $%d", argCount)
		args = append(args, filters.ClientID)
		argCount++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}
	if filters.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argCount)
		args = append(args, filters.Type)
		argCount++
	}
	if !filters.StartDate.IsZero() {
		query += fmt.Sprintf(" AND end_time > $%d", argCount)
		args = append(args, filters.StartDate)
		argCount++
	}
	if !filters.EndDate.IsZero() {
		query += fmt.Sprintf(" AND start_time < $%d", argCount)
		args = append(args, filters.EndDate)
		argCount++
	}

	query += " ORDER BY start_time ASC"

	var rows []appointmentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}

	appointments := make([]*model.Appointment, 0, len(rows))
	for i := range rows {
		appointments = append(appointments, rows[i].toModel())
	}
	return appointments, nil
}

func (r *appointmentRepository) ListScheduled(ctx context.Context) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE status = $1 ORDER BY start_time ASC`

	var rows []appointmentRow
	if err := r.db.SelectContext(ctx, &rows, query, model.AppointmentStatusScheduled); err != nil {
		return nil, fmt.Errorf("failed to list scheduled appointments: %w", err)
	}

	appointments := make([]*model.Appointment, 0, len(rows))
	for i := range rows {
		appointments = append(appointments, rows[i].toModel())
	}
	return appointments, nil
}

func (r *appointmentRepository) AddRecurrenceException(ctx context.Context, id uuid.UUID, seq int64) error {
	query := `
		UPDATE appointments
		SET recurrence_exceptions = array_append(COALESCE(recurrence_exceptions, '{}'), $1),
			updated_at = $2
		WHERE id = $3 AND recurrence_freq IS NOT NULL
			AND NOT ($1 = ANY(COALESCE(recurrence_exceptions, '{}')))
	`
	result, err := r.db.ExecContext(ctx, query, seq, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to add recurrence exception: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
