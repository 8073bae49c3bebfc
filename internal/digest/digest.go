package digest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"evaluation_service/internal/domain"
	"evaluation_service/internal/scheduler"
	"evaluation_service/internal/settings"
	"evaluation_service/pkg/logger"
)

type EvaluationLister interface {
	ListByState(ctx context.Context, states []domain.EvalState) ([]*domain.Evaluation, error)
}

// Job is the consolidated daily digest: one batch reminder across all active
// evaluations instead of per-evaluation reminder series. It runs once per
// day and counts down daysUntilReminder between sends.
type Job struct {
	repo     EvaluationLister
	gateway  scheduler.NotificationGateway
	settings settings.Store
	log      *logger.Logger
}

func NewJob(repo EvaluationLister, gateway scheduler.NotificationGateway, settingsStore settings.Store, log *logger.Logger) *Job {
	return &Job{
		repo:     repo,
		gateway:  gateway,
		settings: settingsStore,
		log:      log,
	}
}

// Run executes one daily tick. Disabled or channel-less configurations are a
// logged no-op, not an error.
func (j *Job) Run(ctx context.Context) error {
	consolidated, err := j.settings.Bool(ctx, settings.KeyConsolidateNotifications)
	if err != nil {
		return fmt.Errorf("failed to read consolidated notifications setting: %w", err)
	}
	if !consolidated {
		j.log.Debug("consolidated digest disabled, skipping run")
		return nil
	}

	delivery, err := j.settings.String(ctx, settings.KeyEmailDeliveryOption)
	if err != nil {
		return fmt.Errorf("failed to read delivery option: %w", err)
	}
	logRecipients, err := j.settings.Bool(ctx, settings.KeyLogEmailRecipients)
	if err != nil {
		return fmt.Errorf("failed to read recipient logging setting: %w", err)
	}
	if delivery == settings.DeliveryNone && !logRecipients {
		j.log.Info("no delivery channel active, skipping digest run")
		return nil
	}

	active, err := j.repo.ListByState(ctx, []domain.EvalState{domain.StateActive})
	if err != nil {
		return fmt.Errorf("failed to list active evaluations: %w", err)
	}
	if len(active) == 0 {
		j.log.Debug("no active evaluations, skipping digest run")
		return nil
	}

	days, err := j.settings.Int(ctx, settings.KeyDaysUntilReminder)
	if err != nil {
		return fmt.Errorf("failed to read reminder countdown: %w", err)
	}
	days--
	if days > 0 {
		if err := j.settings.SetInt(ctx, settings.KeyDaysUntilReminder, days); err != nil {
			return fmt.Errorf("failed to persist reminder countdown: %w", err)
		}
		j.log.Debug("digest countdown decremented", zap.Int("days_until_reminder", days))
		return nil
	}

	sent := 0
	for _, eval := range active {
		recipients, err := j.gateway.SendReminder(ctx, eval.ID, scheduler.ReminderFilterDigest)
		if err != nil {
			j.log.Error("failed to send digest reminder",
				zap.String("evaluation_id", eval.ID), zap.Error(err))
			continue
		}
		sent += len(recipients)
	}

	interval, err := j.settings.Int(ctx, settings.KeyReminderInterval)
	if err != nil {
		return fmt.Errorf("failed to read reminder interval: %w", err)
	}
	if interval <= 0 {
		interval = 1
	}
	if err := j.settings.SetInt(ctx, settings.KeyDaysUntilReminder, interval); err != nil {
		return fmt.Errorf("failed to reset reminder countdown: %w", err)
	}

	j.log.Info("consolidated digest sent",
		zap.Int("evaluations", len(active)),
		zap.Int("recipients", sent),
		zap.Int("next_in_days", interval),
	)
	return nil
}
