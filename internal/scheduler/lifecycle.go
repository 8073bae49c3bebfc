package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"evaluation_service/internal/domain"
	"evaluation_service/internal/settings"
	"evaluation_service/pkg/logger"
)

// reminderSeriesCap bounds the pre-scheduled reminder series. The store has
// no native repeating trigger, so the series is materialized up front and
// re-extended on each reconciliation while the evaluation stays active.
const reminderSeriesCap = 3

// LifecycleScheduler keeps the set of pending delayed actions for an
// evaluation exactly matching what its current state and dates require.
// Every public operation re-establishes that invariant from scratch, so the
// calls are idempotent and safe to retry or race: action keys derive only
// from (evaluation id, kind), never from call order.
type LifecycleScheduler struct {
	store    ActionStore
	settings SettingsReader
	log      *logger.Logger
	now      func() time.Time
}

func NewLifecycleScheduler(store ActionStore, settings SettingsReader, log *logger.Logger) *LifecycleScheduler {
	return &LifecycleScheduler{
		store:    store,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the scheduler's clock. Intended for tests.
func (s *LifecycleScheduler) WithClock(now func() time.Time) *LifecycleScheduler {
	s.now = now
	return s
}

// OnEvaluationCreated schedules the become-active action for a freshly
// authored evaluation. The evaluation must resolve to InQueue; anything else
// is reported as an error with no partial scheduling.
func (s *LifecycleScheduler) OnEvaluationCreated(ctx context.Context, eval *domain.Evaluation) error {
	if err := eval.ValidateDates(); err != nil {
		return err
	}
	state := domain.ResolveState(eval, s.now())
	if state == domain.StateUnknown {
		return ErrUnknownState
	}
	if state != domain.StateInQueue {
		return fmt.Errorf("%w: resolved state is %s", ErrNotInQueue, state)
	}

	action := DelayedAction{
		Key:          ActionKey(eval.ID, domain.ActionBecomeActive),
		EvaluationID: eval.ID,
		Kind:         domain.ActionBecomeActive,
		FireAt:       eval.StartDate,
	}
	if err := s.store.Upsert(ctx, action); err != nil {
		return fmt.Errorf("failed to schedule become-active: %w", err)
	}

	s.log.Info("scheduled evaluation activation",
		zap.String("evaluation_id", eval.ID),
		zap.Time("fire_at", eval.StartDate),
	)
	return nil
}

// OnEvaluationDatesChanged reconciles the pending actions against the
// evaluation's current dates: missing actions are created, stale fire times
// rescheduled, obsolete actions removed. Calling it twice in a row without
// intervening changes is a no-op the second time.
//
// The desired set keys off the persisted state, not the resolved one: each
// transition seeds exactly the next boundary action, whose fire time may
// already be in the past after downtime. The store fires those promptly,
// which walks a lagging evaluation through every missed transition in order
// instead of skipping states.
func (s *LifecycleScheduler) OnEvaluationDatesChanged(ctx context.Context, eval *domain.Evaluation) error {
	if err := eval.ValidateDates(); err != nil {
		return err
	}
	state := eval.State
	if !state.IsValid() {
		return ErrUnknownState
	}

	desired, err := s.desiredActions(ctx, eval, state)
	if err != nil {
		return err
	}
	desiredByKey := make(map[string]DelayedAction, len(desired))
	for _, a := range desired {
		desiredByKey[a.Key] = a
	}

	pending, err := s.store.ListByEvaluation(ctx, eval.ID)
	if err != nil {
		return fmt.Errorf("failed to list pending actions: %w", err)
	}
	pendingByKey := make(map[string][]DelayedAction)
	for _, a := range pending {
		pendingByKey[a.Key] = append(pendingByKey[a.Key], a)
	}

	for key, actions := range pendingByKey {
		if len(actions) > 1 {
			// Should be impossible under correct reconciliation; can happen
			// after manual data repair.
			s.log.Warn("multiple pending actions for one key",
				zap.String("key", key),
				zap.Int("count", len(actions)),
			)
		}

		want, ok := desiredByKey[key]
		if !ok {
			if err := s.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete obsolete action %s: %w", key, err)
			}
			continue
		}
		if len(actions) > 1 || !actions[0].FireAt.Equal(want.FireAt) {
			if err := s.store.Upsert(ctx, want); err != nil {
				return fmt.Errorf("failed to reschedule action %s: %w", key, err)
			}
		}
	}

	for key, want := range desiredByKey {
		if _, exists := pendingByKey[key]; exists {
			continue
		}
		if err := s.store.Upsert(ctx, want); err != nil {
			return fmt.Errorf("failed to schedule action %s: %w", key, err)
		}
	}

	s.log.Debug("reconciled evaluation actions",
		zap.String("evaluation_id", eval.ID),
		zap.String("state", string(state)),
		zap.Int("desired", len(desired)),
	)
	return nil
}

// OnEvaluationDeleted cancels every pending action for the evaluation.
// Safe to call with zero, one, or many pending actions, and safe to call twice.
func (s *LifecycleScheduler) OnEvaluationDeleted(ctx context.Context, evaluationID string) error {
	for _, kind := range domain.AllActionKinds {
		if err := s.store.DeleteKind(ctx, evaluationID, kind); err != nil {
			return fmt.Errorf("failed to cancel %s actions: %w", kind, err)
		}
	}
	s.log.Info("cancelled all pending actions", zap.String("evaluation_id", evaluationID))
	return nil
}

// desiredActions computes the exact action set the evaluation's state and
// dates require right now.
func (s *LifecycleScheduler) desiredActions(ctx context.Context, eval *domain.Evaluation, state domain.EvalState) ([]DelayedAction, error) {
	var desired []DelayedAction

	add := func(kind domain.ActionKind, fireAt time.Time) {
		desired = append(desired, DelayedAction{
			Key:          ActionKey(eval.ID, kind),
			EvaluationID: eval.ID,
			Kind:         kind,
			FireAt:       fireAt,
		})
	}

	switch state {
	case domain.StateInQueue:
		add(domain.ActionBecomeActive, eval.StartDate)

	case domain.StateActive:
		if eval.DueDate != nil {
			add(domain.ActionBecomeDue, *eval.DueDate)
		}
		reminders, err := s.reminderSeries(ctx, eval)
		if err != nil {
			return nil, err
		}
		desired = append(desired, reminders...)

	case domain.StateDue:
		if stop := eval.EffectiveStopDate(); stop != nil {
			add(domain.ActionBecomeClosed, *stop)
		}

	case domain.StateClosed:
		if view := eval.EffectiveViewDate(); view != nil {
			add(domain.ActionBecomeViewable, *view)
		}
		if eval.InstructorsViewDate != nil {
			add(domain.ActionNotifyInstructorsViewable, *eval.InstructorsViewDate)
		}
		if eval.StudentsViewDate != nil {
			add(domain.ActionNotifyStudentsViewable, *eval.StudentsViewDate)
		}

	case domain.StateViewable:
		// Terminal: nothing pending.
	}

	sort.Slice(desired, func(i, j int) bool { return desired[i].FireAt.Before(desired[j].FireAt) })
	return desired, nil
}

// reminderSeries builds the bounded reminder series for an active evaluation.
// No reminder may fire at or after the due date, and the series is suppressed
// entirely when reminders are disabled or the consolidated digest owns them.
func (s *LifecycleScheduler) reminderSeries(ctx context.Context, eval *domain.Evaluation) ([]DelayedAction, error) {
	if eval.ReminderDays <= 0 {
		return nil, nil
	}
	consolidated, err := s.settings.Bool(ctx, settings.KeyConsolidateNotifications)
	if err != nil {
		return nil, fmt.Errorf("failed to read consolidated notifications setting: %w", err)
	}
	if consolidated {
		return nil, nil
	}

	now := s.now()
	var series []DelayedAction
	for k := 1; k <= reminderSeriesCap; k++ {
		fireAt := eval.StartDate.AddDate(0, 0, k*eval.ReminderDays)
		if eval.DueDate != nil && !fireAt.Before(*eval.DueDate) {
			break
		}
		// Reminders already in the past were either sent or superseded;
		// resurrecting them would double-send.
		if !fireAt.After(now) {
			continue
		}
		series = append(series, DelayedAction{
			Key:          ReminderKey(eval.ID, k),
			EvaluationID: eval.ID,
			Kind:         domain.ActionReminder,
			FireAt:       fireAt,
		})
	}
	return series, nil
}
