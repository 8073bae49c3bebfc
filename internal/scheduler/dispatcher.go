package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"evaluation_service/internal/domain"
	"evaluation_service/internal/repository"
	"evaluation_service/internal/settings"
	"evaluation_service/pkg/logger"
)

// ActionDispatcher executes fired delayed actions: it drives the evaluation
// state machine and triggers the notification side effects. It never trusts
// the action's captured intent — the evaluation is re-fetched and its state
// re-resolved on every fire, which is what converges races between edits and
// fires without mutual exclusion.
type ActionDispatcher struct {
	repo      EvaluationRepo
	lifecycle *LifecycleScheduler
	gateway   NotificationGateway
	events    EventRegistrar
	settings  SettingsReader
	log       *logger.Logger
	now       func() time.Time
}

func NewActionDispatcher(
	repo EvaluationRepo,
	lifecycle *LifecycleScheduler,
	gateway NotificationGateway,
	events EventRegistrar,
	settings SettingsReader,
	log *logger.Logger,
) *ActionDispatcher {
	return &ActionDispatcher{
		repo:      repo,
		lifecycle: lifecycle,
		gateway:   gateway,
		events:    events,
		settings:  settings,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the dispatcher's clock. Intended for tests.
func (d *ActionDispatcher) WithClock(now func() time.Time) *ActionDispatcher {
	d.now = now
	return d
}

// HandleFired is the ActionStore's FiredHandler. Returning an error makes the
// store redeliver, so only failures that must not be dropped (state persist,
// reconciliation) propagate; everything benign is consumed as a no-op.
func (d *ActionDispatcher) HandleFired(ctx context.Context, componentID, key string) error {
	if componentID != ComponentID {
		return nil
	}

	evaluationID, kind, err := ParseKey(key)
	if err != nil {
		d.log.Warn("dropping unparseable action", zap.String("key", key), zap.Error(err))
		return nil
	}

	eval, err := d.repo.GetByID(ctx, evaluationID)
	if errors.Is(err, repository.ErrNotFound) {
		// Deleted after firing but before processing. Legitimate race.
		d.log.Debug("fired action for missing evaluation",
			zap.String("evaluation_id", evaluationID),
			zap.String("kind", string(kind)),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch evaluation %s: %w", evaluationID, err)
	}

	switch kind {
	case domain.ActionBecomeActive, domain.ActionBecomeDue, domain.ActionBecomeClosed, domain.ActionBecomeViewable:
		return d.handleTransition(ctx, eval, kind)
	case domain.ActionReminder:
		return d.handleReminder(ctx, eval)
	case domain.ActionNotifyInstructorsViewable:
		return d.handleViewableNotice(ctx, eval, true)
	case domain.ActionNotifyStudentsViewable:
		return d.handleViewableNotice(ctx, eval, false)
	}
	return nil
}

func (d *ActionDispatcher) handleTransition(ctx context.Context, eval *domain.Evaluation, kind domain.ActionKind) error {
	target, ok := kind.TargetState()
	if !ok {
		return nil
	}

	if eval.State == target {
		// Duplicate delivery: the flip and its notifications already went
		// out, but the previous attempt may have died between persisting the
		// state and seeding the follow-up actions. Reconciling is idempotent,
		// so a true duplicate stays a no-op while a half-finished one gets
		// its next transition scheduled.
		d.log.Debug("duplicate transition, reconciling only",
			zap.String("evaluation_id", eval.ID),
			zap.String("kind", string(kind)),
		)
		return d.lifecycle.OnEvaluationDatesChanged(ctx, eval)
	}

	resolved := domain.ResolveState(eval, d.now())
	if resolved == domain.StateUnknown {
		d.log.Error("fired transition for unresolvable evaluation",
			zap.String("evaluation_id", eval.ID),
			zap.String("kind", string(kind)),
		)
		return nil
	}
	if stateRank(resolved) < stateRank(target) {
		// The evaluation was edited between scheduling and firing and the
		// boundary no longer lies in the past. Reconcile instead of flipping.
		return d.lifecycle.OnEvaluationDatesChanged(ctx, eval)
	}

	// Persistence failure here is fatal for the action: the store's
	// redelivery retries it, a transition must never be silently lost.
	if err := d.repo.UpdateState(ctx, eval.ID, target); err != nil {
		return fmt.Errorf("failed to persist state %s: %w", target, err)
	}
	eval.State = target

	d.events.RegisterEvent(ctx, transitionEventName(kind), eval)

	switch kind {
	case domain.ActionBecomeActive:
		if _, err := d.gateway.SendAvailable(ctx, eval, true); err != nil {
			d.log.Error("failed to send available notification",
				zap.String("evaluation_id", eval.ID), zap.Error(err))
		}
	case domain.ActionBecomeViewable:
		if _, err := d.gateway.SendViewable(ctx, eval, !eval.ResultsPrivate, !eval.ResultsPrivate); err != nil {
			d.log.Error("failed to send viewable notification",
				zap.String("evaluation_id", eval.ID), zap.Error(err))
		}
	}

	d.log.Info("evaluation transitioned",
		zap.String("evaluation_id", eval.ID),
		zap.String("state", string(target)),
	)

	// Seed the next transition (and drop reminders once the response window
	// ended) by reconciling against the new state.
	if err := d.lifecycle.OnEvaluationDatesChanged(ctx, eval); err != nil {
		return fmt.Errorf("failed to seed follow-up actions: %w", err)
	}
	return nil
}

func (d *ActionDispatcher) handleReminder(ctx context.Context, eval *domain.Evaluation) error {
	state := domain.ResolveState(eval, d.now())
	if state != domain.StateActive {
		// The response window ended before this reminder was processed.
		return nil
	}
	if eval.ReminderDays <= 0 {
		return nil
	}

	consolidated, err := d.settings.Bool(ctx, settings.KeyConsolidateNotifications)
	if err != nil {
		return fmt.Errorf("failed to read consolidated notifications setting: %w", err)
	}
	if consolidated {
		// The daily digest owns reminders now; per-evaluation sends would
		// double-notify.
		d.log.Debug("suppressing reminder in digest mode", zap.String("evaluation_id", eval.ID))
		return nil
	}

	recipients, err := d.gateway.SendReminder(ctx, eval.ID, ReminderFilterNonResponders)
	if err != nil {
		d.log.Error("failed to send reminder",
			zap.String("evaluation_id", eval.ID), zap.Error(err))
		return nil
	}

	d.log.Info("sent evaluation reminder",
		zap.String("evaluation_id", eval.ID),
		zap.Int("recipients", len(recipients)),
	)
	return nil
}

func (d *ActionDispatcher) handleViewableNotice(ctx context.Context, eval *domain.Evaluation, instructors bool) error {
	state := domain.ResolveState(eval, d.now())
	if state != domain.StateClosed && state != domain.StateViewable {
		return nil
	}

	includeEvaluatees := !instructors && !eval.ResultsPrivate
	includeAdmins := instructors && !eval.ResultsPrivate
	if _, err := d.gateway.SendViewable(ctx, eval, includeEvaluatees, includeAdmins); err != nil {
		d.log.Error("failed to send viewable notice",
			zap.String("evaluation_id", eval.ID),
			zap.Bool("instructors", instructors),
			zap.Error(err))
	}
	return nil
}

func stateRank(s domain.EvalState) int {
	switch s {
	case domain.StateInQueue:
		return 0
	case domain.StateActive:
		return 1
	case domain.StateDue:
		return 2
	case domain.StateClosed:
		return 3
	case domain.StateViewable:
		return 4
	default:
		return -1
	}
}

func transitionEventName(kind domain.ActionKind) string {
	switch kind {
	case domain.ActionBecomeActive:
		return "evaluation.state.active"
	case domain.ActionBecomeDue:
		return "evaluation.state.due"
	case domain.ActionBecomeClosed:
		return "evaluation.state.closed"
	case domain.ActionBecomeViewable:
		return "evaluation.state.viewable"
	default:
		return "evaluation.state.unknown"
	}
}
