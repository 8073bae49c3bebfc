package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"evaluation_service/internal/domain"
)

// ComponentID namespaces this service's delayed actions inside a shared store.
const ComponentID = "evaluation-lifecycle"

// DelayedAction is a unit of future work owned by the store. The scheduler
// only ever references actions by key; it never holds one across calls.
type DelayedAction struct {
	Key          string
	EvaluationID string
	Kind         domain.ActionKind
	FireAt       time.Time
}

// FiredHandler processes a fired action. A non-nil error makes the store
// redeliver the action; a nil return consumes it.
type FiredHandler func(ctx context.Context, componentID, key string) error

// ActionStore is the durable delayed-action backend. Delivery is at least
// once: handlers must be idempotent. Upsert is the atomic reschedule
// primitive, so a crash mid-reschedule never leaves zero actions behind.
type ActionStore interface {
	// Upsert creates the action, replacing any pending actions under the same key.
	Upsert(ctx context.Context, action DelayedAction) error
	// Find returns all pending actions for the key. An empty result is a
	// normal value, not an error. More than one entry means the store
	// invariant was broken externally and needs repair.
	Find(ctx context.Context, key string) ([]DelayedAction, error)
	// ListByEvaluation returns every pending action for the evaluation.
	ListByEvaluation(ctx context.Context, evaluationID string) ([]DelayedAction, error)
	// Delete removes all pending actions for the key. Absent keys are a no-op.
	Delete(ctx context.Context, key string) error
	// DeleteKind removes every pending action of the kind for the evaluation.
	DeleteKind(ctx context.Context, evaluationID string, kind domain.ActionKind) error
	// Subscribe registers the handler invoked when actions fire.
	Subscribe(handler FiredHandler)
}

// ActionKey builds the store key for single-instance action kinds.
func ActionKey(evaluationID string, kind domain.ActionKind) string {
	return evaluationID + "/" + string(kind)
}

// ReminderKey builds the store key for the k-th reminder in a series.
// Reminders are the only kind with several pending actions per evaluation,
// so the ordinal keeps the keys injective.
func ReminderKey(evaluationID string, k int) string {
	return fmt.Sprintf("%s/%s/%d", evaluationID, domain.ActionReminder, k)
}

// ParseKey extracts the evaluation id and action kind from a store key.
func ParseKey(key string) (string, domain.ActionKind, error) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("malformed action key: %q", key)
	}
	kind := domain.ActionKind(parts[1])
	if !kind.IsValid() {
		return "", "", fmt.Errorf("unknown action kind in key: %q", key)
	}
	return parts[0], kind, nil
}
