package notification_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"evaluation_service/internal/domain"
	"evaluation_service/internal/notification"
	"evaluation_service/internal/repository"
	repomocks "evaluation_service/internal/repository/mocks"
	"evaluation_service/internal/settings"
	"evaluation_service/internal/testutils"
	"evaluation_service/pkg/logger"
)

const testTopic = "evaluation-notifications"

type gatewayFixture struct {
	producer *testutils.MockProducer
	audience *repomocks.MockAudienceRepository
	settings *settings.MemoryStore
	gw       *notification.KafkaGateway
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	f := &gatewayFixture{
		producer: new(testutils.MockProducer),
		audience: new(repomocks.MockAudienceRepository),
		settings: settings.NewMemoryStore(),
	}
	require.NoError(t, f.settings.SetString(context.Background(), settings.KeyEmailDeliveryOption, settings.DeliverySend))
	f.gw = notification.NewKafkaGateway(f.producer, f.audience, f.settings, testTopic, logger.NewNop())
	return f
}

func (f *gatewayFixture) assertExpectations(t *testing.T) {
	f.producer.AssertExpectations(t)
	f.audience.AssertExpectations(t)
}

func jobMatcher(template, filter string, recipients []string) interface{} {
	return mock.MatchedBy(func(msg interface{}) bool {
		job, ok := msg.(notification.EmailJob)
		if !ok {
			return false
		}
		return job.Template == template && job.Filter == filter &&
			assert.ObjectsAreEqual(recipients, job.Recipients)
	})
}

func TestSendCreated_IncludesOwner(t *testing.T) {
	f := newGatewayFixture(t)
	eval := &domain.Evaluation{ID: "eval-1"}

	f.audience.On("ListUsers", mock.Anything, "eval-1",
		[]string{repository.AudienceEvaluator, repository.AudienceOwner}).
		Return([]string{"evaluator-1", "owner-1"}, nil).Once()
	f.producer.On("Send", mock.Anything, testTopic, "eval-1",
		jobMatcher(notification.TemplateCreated, "", []string{"evaluator-1", "owner-1"})).
		Return(nil).Once()

	recipients, err := f.gw.SendCreated(context.Background(), eval, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"evaluator-1", "owner-1"}, recipients)
	f.assertExpectations(t)
}

func TestSendAvailable_EvaluatorsOnly(t *testing.T) {
	f := newGatewayFixture(t)
	eval := &domain.Evaluation{ID: "eval-1"}

	f.audience.On("ListUsers", mock.Anything, "eval-1", []string{repository.AudienceEvaluator}).
		Return([]string{"evaluator-1"}, nil).Once()
	f.producer.On("Send", mock.Anything, testTopic, "eval-1",
		jobMatcher(notification.TemplateAvailable, "", []string{"evaluator-1"})).
		Return(nil).Once()

	recipients, err := f.gw.SendAvailable(context.Background(), eval, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"evaluator-1"}, recipients)
	f.assertExpectations(t)
}

func TestSendReminder_CarriesFilter(t *testing.T) {
	f := newGatewayFixture(t)

	f.audience.On("ListUsers", mock.Anything, "eval-1", []string{repository.AudienceEvaluator}).
		Return([]string{"evaluator-1"}, nil).Once()
	f.producer.On("Send", mock.Anything, testTopic, "eval-1",
		jobMatcher(notification.TemplateReminder, "non-responders", []string{"evaluator-1"})).
		Return(nil).Once()

	recipients, err := f.gw.SendReminder(context.Background(), "eval-1", "non-responders")
	require.NoError(t, err)
	assert.Equal(t, []string{"evaluator-1"}, recipients)
	f.assertExpectations(t)
}

func TestSendViewable_PrivateResultsGoToOwnerOnly(t *testing.T) {
	f := newGatewayFixture(t)
	eval := &domain.Evaluation{ID: "eval-1", ResultsPrivate: true}

	f.audience.On("ListUsers", mock.Anything, "eval-1", []string{repository.AudienceOwner}).
		Return([]string{"owner-1"}, nil).Once()
	f.producer.On("Send", mock.Anything, testTopic, "eval-1",
		jobMatcher(notification.TemplateViewable, "", []string{"owner-1"})).
		Return(nil).Once()

	recipients, err := f.gw.SendViewable(context.Background(), eval, true, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner-1"}, recipients)
	f.assertExpectations(t)
}

func TestSendViewable_RoleSelection(t *testing.T) {
	f := newGatewayFixture(t)
	eval := &domain.Evaluation{ID: "eval-1"}

	f.audience.On("ListUsers", mock.Anything, "eval-1", []string{
		repository.AudienceOwner,
		repository.AudienceEvaluator,
		repository.AudienceEvaluatee,
		repository.AudienceAdmin,
	}).Return([]string{"owner-1", "evaluator-1", "evaluatee-1", "admin-1"}, nil).Once()
	f.producer.On("Send", mock.Anything, testTopic, "eval-1", mock.Anything).Return(nil).Once()

	_, err := f.gw.SendViewable(context.Background(), eval, true, true)
	require.NoError(t, err)
	f.assertExpectations(t)
}

func TestSend_EmptyAudienceSkipsPublish(t *testing.T) {
	f := newGatewayFixture(t)
	eval := &domain.Evaluation{ID: "eval-1"}

	f.audience.On("ListUsers", mock.Anything, "eval-1", mock.Anything).
		Return([]string{}, nil).Once()

	recipients, err := f.gw.SendAvailable(context.Background(), eval, true)
	require.NoError(t, err)
	assert.Empty(t, recipients)
	f.assertExpectations(t)
}

func TestSend_DeliveryDisabledDropsBatch(t *testing.T) {
	f := newGatewayFixture(t)
	require.NoError(t, f.settings.SetString(context.Background(), settings.KeyEmailDeliveryOption, settings.DeliveryNone))
	eval := &domain.Evaluation{ID: "eval-1"}

	f.audience.On("ListUsers", mock.Anything, "eval-1", mock.Anything).
		Return([]string{"evaluator-1"}, nil).Once()

	recipients, err := f.gw.SendAvailable(context.Background(), eval, true)
	require.NoError(t, err)
	assert.Empty(t, recipients)
	f.assertExpectations(t)
}

func TestSend_LogOnlyReportsRecipientsWithoutPublishing(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.SetString(ctx, settings.KeyEmailDeliveryOption, settings.DeliveryNone))
	require.NoError(t, f.settings.SetBool(ctx, settings.KeyLogEmailRecipients, true))
	eval := &domain.Evaluation{ID: "eval-1"}

	f.audience.On("ListUsers", mock.Anything, "eval-1", mock.Anything).
		Return([]string{"evaluator-1"}, nil).Once()

	recipients, err := f.gw.SendAvailable(ctx, eval, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"evaluator-1"}, recipients)
	f.assertExpectations(t)
}

func TestSend_AudienceFailurePropagates(t *testing.T) {
	f := newGatewayFixture(t)
	eval := &domain.Evaluation{ID: "eval-1"}

	f.audience.On("ListUsers", mock.Anything, "eval-1", mock.Anything).
		Return(nil, errors.New("db gone")).Once()

	_, err := f.gw.SendAvailable(context.Background(), eval, true)
	require.Error(t, err)
	f.assertExpectations(t)
}

func TestSend_ProducerFailurePropagates(t *testing.T) {
	f := newGatewayFixture(t)
	eval := &domain.Evaluation{ID: "eval-1"}

	f.audience.On("ListUsers", mock.Anything, "eval-1", mock.Anything).
		Return([]string{"evaluator-1"}, nil).Once()
	f.producer.On("Send", mock.Anything, testTopic, "eval-1", mock.Anything).
		Return(errors.New("broker down")).Once()

	_, err := f.gw.SendAvailable(context.Background(), eval, true)
	require.Error(t, err)
	f.assertExpectations(t)
}
