package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"evaluation_service/internal/domain"
)

type MockEvaluationRepository struct {
	mock.Mock
}

func (m *MockEvaluationRepository) Create(ctx context.Context, eval *domain.Evaluation) error {
	args := m.Called(ctx, eval)
	return args.Error(0)
}

func (m *MockEvaluationRepository) GetByID(ctx context.Context, id string) (*domain.Evaluation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Evaluation), args.Error(1)
}

func (m *MockEvaluationRepository) Update(ctx context.Context, eval *domain.Evaluation) error {
	args := m.Called(ctx, eval)
	return args.Error(0)
}

func (m *MockEvaluationRepository) UpdateState(ctx context.Context, id string, state domain.EvalState) error {
	args := m.Called(ctx, id, state)
	return args.Error(0)
}

func (m *MockEvaluationRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockEvaluationRepository) ListByState(ctx context.Context, states []domain.EvalState) ([]*domain.Evaluation, error) {
	args := m.Called(ctx, states)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Evaluation), args.Error(1)
}

type MockAudienceRepository struct {
	mock.Mock
}

func (m *MockAudienceRepository) ListUsers(ctx context.Context, evaluationID string, roles []string) ([]string, error) {
	args := m.Called(ctx, evaluationID, roles)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
