package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"evaluation_service/internal/domain"
	"evaluation_service/pkg/logger"
)

type Producer interface {
	Send(ctx context.Context, topic string, key string, message interface{}) error
}

// LifecycleEvent is the audit record published on every state transition for
// external analytics collaborators.
type LifecycleEvent struct {
	Event        string    `json:"event"`
	EvaluationID string    `json:"evaluation_id"`
	OwnerID      string    `json:"owner_id"`
	State        string    `json:"state"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Registrar publishes lifecycle audit events. Publishing is fire and forget:
// a broker failure must never block or fail the transition that triggered it.
type Registrar struct {
	producer Producer
	topic    string
	log      *logger.Logger
}

func NewRegistrar(producer Producer, topic string, log *logger.Logger) *Registrar {
	return &Registrar{producer: producer, topic: topic, log: log}
}

func (r *Registrar) RegisterEvent(ctx context.Context, eventName string, eval *domain.Evaluation) {
	event := LifecycleEvent{
		Event:        eventName,
		EvaluationID: eval.ID,
		OwnerID:      eval.OwnerID,
		State:        string(eval.State),
		OccurredAt:   time.Now(),
	}
	if err := r.producer.Send(ctx, r.topic, eval.ID, event); err != nil {
		r.log.Error("failed to register lifecycle event",
			zap.String("event", eventName),
			zap.String("evaluation_id", eval.ID),
			zap.Error(err),
		)
	}
}
