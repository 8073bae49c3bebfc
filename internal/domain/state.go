package domain

import "time"

// ResolveState derives the canonical lifecycle state from the evaluation's
// dates and the given clock reading. The persisted State column is a cache;
// this function is the source of truth.
//
// A missing start date means the evaluation is malformed and resolves to
// StateUnknown. A missing due date means the evaluation never closes: it stays
// Active once started. Stop falls back to due, view falls back to stop.
func ResolveState(e *Evaluation, now time.Time) EvalState {
	if e == nil || e.StartDate.IsZero() {
		return StateUnknown
	}
	if now.Before(e.StartDate) {
		return StateInQueue
	}
	if e.DueDate == nil {
		return StateActive
	}
	if now.Before(*e.DueDate) {
		return StateActive
	}
	stop := e.EffectiveStopDate()
	if now.Before(*stop) {
		return StateDue
	}
	view := e.EffectiveViewDate()
	if now.Before(*view) {
		return StateClosed
	}
	return StateViewable
}
