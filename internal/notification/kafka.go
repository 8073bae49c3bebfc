package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"evaluation_service/internal/domain"
	"evaluation_service/internal/repository"
	"evaluation_service/internal/settings"
	"evaluation_service/pkg/logger"
)

// Email templates the downstream mailer renders.
const (
	TemplateCreated   = "evaluation-created"
	TemplateAvailable = "evaluation-available"
	TemplateReminder  = "evaluation-reminder"
	TemplateViewable  = "evaluation-viewable"
)

type Producer interface {
	Send(ctx context.Context, topic string, key string, message interface{}) error
}

// EmailJob is the message published per notification batch. The mailer
// consumes it, renders the template, and delivers to the listed recipients.
type EmailJob struct {
	EvaluationID string    `json:"evaluation_id"`
	Template     string    `json:"template"`
	Recipients   []string  `json:"recipients"`
	Filter       string    `json:"filter,omitempty"`
	QueuedAt     time.Time `json:"queued_at"`
}

// KafkaGateway implements the notification gateway on a Kafka topic.
// Recipient lists come from the audience repository; whether a batch is
// actually published or only logged is governed by the email delivery
// settings.
type KafkaGateway struct {
	producer Producer
	audience repository.AudienceRepositoryInterface
	settings settings.Store
	topic    string
	log      *logger.Logger
}

func NewKafkaGateway(
	producer Producer,
	audience repository.AudienceRepositoryInterface,
	settingsStore settings.Store,
	topic string,
	log *logger.Logger,
) *KafkaGateway {
	return &KafkaGateway{
		producer: producer,
		audience: audience,
		settings: settingsStore,
		topic:    topic,
		log:      log,
	}
}

func (g *KafkaGateway) SendCreated(ctx context.Context, eval *domain.Evaluation, includeOwner bool) ([]string, error) {
	roles := []string{repository.AudienceEvaluator}
	if includeOwner {
		roles = append(roles, repository.AudienceOwner)
	}
	return g.send(ctx, eval.ID, TemplateCreated, roles, "")
}

func (g *KafkaGateway) SendAvailable(ctx context.Context, eval *domain.Evaluation, includeEvaluatees bool) ([]string, error) {
	roles := []string{repository.AudienceEvaluator}
	if includeEvaluatees {
		roles = append(roles, repository.AudienceEvaluatee)
	}
	return g.send(ctx, eval.ID, TemplateAvailable, roles, "")
}

func (g *KafkaGateway) SendReminder(ctx context.Context, evaluationID string, filter string) ([]string, error) {
	return g.send(ctx, evaluationID, TemplateReminder, []string{repository.AudienceEvaluator}, filter)
}

func (g *KafkaGateway) SendViewable(ctx context.Context, eval *domain.Evaluation, includeEvaluatees, includeAdmins bool) ([]string, error) {
	if eval.ResultsPrivate {
		// Private results go to the owner and nobody else.
		return g.send(ctx, eval.ID, TemplateViewable, []string{repository.AudienceOwner}, "")
	}
	roles := []string{repository.AudienceOwner, repository.AudienceEvaluator}
	if includeEvaluatees {
		roles = append(roles, repository.AudienceEvaluatee)
	}
	if includeAdmins {
		roles = append(roles, repository.AudienceAdmin)
	}
	return g.send(ctx, eval.ID, TemplateViewable, roles, "")
}

func (g *KafkaGateway) send(ctx context.Context, evaluationID, template string, roles []string, filter string) ([]string, error) {
	recipients, err := g.audience.ListUsers(ctx, evaluationID, roles)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, nil
	}

	delivery, err := g.settings.String(ctx, settings.KeyEmailDeliveryOption)
	if err != nil {
		return nil, err
	}
	logRecipients, err := g.settings.Bool(ctx, settings.KeyLogEmailRecipients)
	if err != nil {
		return nil, err
	}

	if logRecipients {
		g.log.Info("email recipients",
			zap.String("evaluation_id", evaluationID),
			zap.String("template", template),
			zap.Strings("recipients", recipients),
		)
	}

	if delivery == settings.DeliveryNone {
		if !logRecipients {
			g.log.Debug("email delivery disabled, batch dropped",
				zap.String("evaluation_id", evaluationID),
				zap.String("template", template),
			)
			return nil, nil
		}
		return recipients, nil
	}

	job := EmailJob{
		EvaluationID: evaluationID,
		Template:     template,
		Recipients:   recipients,
		Filter:       filter,
		QueuedAt:     time.Now(),
	}
	if err := g.producer.Send(ctx, g.topic, evaluationID, job); err != nil {
		return nil, fmt.Errorf("failed to publish email job: %w", err)
	}

	return recipients, nil
}
