package testutils

import (
	"context"

	"github.com/stretchr/testify/mock"

	"evaluation_service/internal/domain"
)

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Send(ctx context.Context, topic string, key string, message interface{}) error {
	args := m.Called(ctx, topic, key, message)
	return args.Error(0)
}

type MockNotificationGateway struct {
	mock.Mock
}

func (m *MockNotificationGateway) SendCreated(ctx context.Context, eval *domain.Evaluation, includeOwner bool) ([]string, error) {
	args := m.Called(ctx, eval, includeOwner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockNotificationGateway) SendAvailable(ctx context.Context, eval *domain.Evaluation, includeEvaluatees bool) ([]string, error) {
	args := m.Called(ctx, eval, includeEvaluatees)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockNotificationGateway) SendReminder(ctx context.Context, evaluationID string, filter string) ([]string, error) {
	args := m.Called(ctx, evaluationID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockNotificationGateway) SendViewable(ctx context.Context, eval *domain.Evaluation, includeEvaluatees, includeAdmins bool) ([]string, error) {
	args := m.Called(ctx, eval, includeEvaluatees, includeAdmins)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockEventRegistrar struct {
	mock.Mock
}

func (m *MockEventRegistrar) RegisterEvent(ctx context.Context, eventName string, eval *domain.Evaluation) {
	m.Called(ctx, eventName, eval)
}

type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) OnEvaluationCreated(ctx context.Context, eval *domain.Evaluation) error {
	args := m.Called(ctx, eval)
	return args.Error(0)
}

func (m *MockLifecycle) OnEvaluationDatesChanged(ctx context.Context, eval *domain.Evaluation) error {
	args := m.Called(ctx, eval)
	return args.Error(0)
}

func (m *MockLifecycle) OnEvaluationDeleted(ctx context.Context, evaluationID string) error {
	args := m.Called(ctx, evaluationID)
	return args.Error(0)
}
