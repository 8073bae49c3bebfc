package domain

import (
	"errors"
	"time"
)

var ErrInvalidDates = errors.New("evaluation dates are out of order")

// Evaluation is the scheduled entity whose lifecycle this service drives.
// Only StartDate is required; the later boundaries may be left open.
type Evaluation struct {
	ID                  string
	OwnerID             string
	Title               string
	StartDate           time.Time
	DueDate             *time.Time
	StopDate            *time.Time
	ViewDate            *time.Time
	InstructorsViewDate *time.Time
	StudentsViewDate    *time.Time
	State               EvalState
	ReminderDays        int
	ResultsPrivate      bool
	CreatedAt           time.Time
	EditedAt            time.Time
}

// EffectiveStopDate falls back to the due date when no stop date is set.
func (e *Evaluation) EffectiveStopDate() *time.Time {
	if e.StopDate != nil {
		return e.StopDate
	}
	return e.DueDate
}

// EffectiveViewDate falls back to the effective stop date when no view date is set.
func (e *Evaluation) EffectiveViewDate() *time.Time {
	if e.ViewDate != nil {
		return e.ViewDate
	}
	return e.EffectiveStopDate()
}

// ValidateDates checks startDate <= dueDate <= stopDate <= viewDate for the
// dates that are set.
func (e *Evaluation) ValidateDates() error {
	if e.StartDate.IsZero() {
		return ErrInvalidDates
	}
	if e.DueDate != nil && e.DueDate.Before(e.StartDate) {
		return ErrInvalidDates
	}
	if e.StopDate != nil {
		if e.DueDate == nil || e.StopDate.Before(*e.DueDate) {
			return ErrInvalidDates
		}
	}
	if e.ViewDate != nil {
		if stop := e.EffectiveStopDate(); stop != nil && e.ViewDate.Before(*stop) {
			return ErrInvalidDates
		}
	}
	return nil
}
