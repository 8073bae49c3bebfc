package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"evaluation_service/internal/domain"
	"evaluation_service/internal/repository"
	"evaluation_service/pkg/logger"
)

var (
	ErrEvaluationLocked = errors.New("evaluation is in a locked window")
	ErrInvalidStart     = errors.New("start date must be in the future")
)

// Lifecycle is the scheduling surface the authoring side calls after every
// mutation. These are the only entry points that touch the delayed action set.
type Lifecycle interface {
	OnEvaluationCreated(ctx context.Context, eval *domain.Evaluation) error
	OnEvaluationDatesChanged(ctx context.Context, eval *domain.Evaluation) error
	OnEvaluationDeleted(ctx context.Context, evaluationID string) error
}

type NotificationGateway interface {
	SendCreated(ctx context.Context, eval *domain.Evaluation, includeOwner bool) ([]string, error)
}

// DateChange carries an edit to an evaluation's boundary dates.
// Nil pointers clear the corresponding optional date.
type DateChange struct {
	StartDate           time.Time
	DueDate             *time.Time
	StopDate            *time.Time
	ViewDate            *time.Time
	InstructorsViewDate *time.Time
	StudentsViewDate    *time.Time
	ReminderDays        int
	ResultsPrivate      bool
}

type EvaluationService struct {
	repo      repository.EvaluationRepositoryInterface
	lifecycle Lifecycle
	gateway   NotificationGateway
	log       *logger.Logger
	now       func() time.Time
}

func NewEvaluationService(
	repo repository.EvaluationRepositoryInterface,
	lifecycle Lifecycle,
	gateway NotificationGateway,
	log *logger.Logger,
) *EvaluationService {
	return &EvaluationService{
		repo:      repo,
		lifecycle: lifecycle,
		gateway:   gateway,
		log:       log,
		now:       time.Now,
	}
}

// Create persists a new evaluation in queue and schedules its activation.
// A scheduling failure surfaces to the caller: the evaluation exists but is
// not live until a successful reschedule.
func (s *EvaluationService) Create(ctx context.Context, eval *domain.Evaluation) (*domain.Evaluation, error) {
	if err := eval.ValidateDates(); err != nil {
		return nil, err
	}
	if !eval.StartDate.After(s.now()) {
		return nil, ErrInvalidStart
	}

	eval.State = domain.StateInQueue
	if err := s.repo.Create(ctx, eval); err != nil {
		return nil, err
	}

	if err := s.lifecycle.OnEvaluationCreated(ctx, eval); err != nil {
		return nil, err
	}

	// Announced only once the activation is actually scheduled. The mail
	// itself stays best effort: a delivery failure must not fail authoring.
	if _, err := s.gateway.SendCreated(ctx, eval, true); err != nil {
		s.log.Error("failed to send created notification",
			zap.String("evaluation_id", eval.ID), zap.Error(err))
	}

	return eval, nil
}

func (s *EvaluationService) Get(ctx context.Context, id string) (*domain.Evaluation, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateDates applies a date edit and reconciles the scheduled actions.
// An error means the change was not fully applied; callers must not report
// the edit as successful until this returns nil.
func (s *EvaluationService) UpdateDates(ctx context.Context, id string, change DateChange) (*domain.Evaluation, error) {
	eval, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if domain.ResolveState(eval, s.now()) == domain.StateViewable {
		return nil, ErrEvaluationLocked
	}

	eval.StartDate = change.StartDate
	eval.DueDate = change.DueDate
	eval.StopDate = change.StopDate
	eval.ViewDate = change.ViewDate
	eval.InstructorsViewDate = change.InstructorsViewDate
	eval.StudentsViewDate = change.StudentsViewDate
	eval.ReminderDays = change.ReminderDays
	eval.ResultsPrivate = change.ResultsPrivate

	if err := eval.ValidateDates(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, eval); err != nil {
		return nil, err
	}

	if err := s.lifecycle.OnEvaluationDatesChanged(ctx, eval); err != nil {
		return nil, err
	}

	return eval, nil
}

// Delete removes the evaluation and cancels every pending action for it.
// Cancellation runs even when the row is already gone, so retries converge.
func (s *EvaluationService) Delete(ctx context.Context, id string) error {
	deleteErr := s.repo.Delete(ctx, id)
	if deleteErr != nil && !errors.Is(deleteErr, repository.ErrNotFound) {
		return deleteErr
	}

	if err := s.lifecycle.OnEvaluationDeleted(ctx, id); err != nil {
		return err
	}

	return deleteErr
}
