package scheduler

import (
	"context"

	"evaluation_service/internal/domain"
)

// ReminderFilterNonResponders asks the gateway to mail only users who have
// not yet responded to the evaluation.
const ReminderFilterNonResponders = "non-responders"

// ReminderFilterDigest marks a send that is part of the consolidated daily
// digest instead of a per-evaluation reminder.
const ReminderFilterDigest = "digest"

type EvaluationRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Evaluation, error)
	UpdateState(ctx context.Context, id string, state domain.EvalState) error
}

// NotificationGateway sends templated lifecycle mail. Each call returns the
// recipients actually messaged.
type NotificationGateway interface {
	SendCreated(ctx context.Context, eval *domain.Evaluation, includeOwner bool) ([]string, error)
	SendAvailable(ctx context.Context, eval *domain.Evaluation, includeEvaluatees bool) ([]string, error)
	SendReminder(ctx context.Context, evaluationID string, filter string) ([]string, error)
	SendViewable(ctx context.Context, eval *domain.Evaluation, includeEvaluatees, includeAdmins bool) ([]string, error)
}

// EventRegistrar publishes audit events for external collaborators.
// Implementations must never block or fail a transition: errors are logged
// and swallowed inside.
type EventRegistrar interface {
	RegisterEvent(ctx context.Context, eventName string, eval *domain.Evaluation)
}

// SettingsReader is the subset of the settings store the scheduling core
// consults.
type SettingsReader interface {
	Bool(ctx context.Context, key string) (bool, error)
	Int(ctx context.Context, key string) (int, error)
}
