package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evaluation_service/internal/domain"
	"evaluation_service/internal/repository"
	"evaluation_service/internal/scheduler"
	"evaluation_service/internal/settings"
	"evaluation_service/pkg/logger"
)

// fakeEvalRepo is a map-backed repository that records every state write, so
// tests can assert the exact transition sequence.
type fakeEvalRepo struct {
	mu    sync.Mutex
	evals map[string]*domain.Evaluation
	saved []domain.EvalState
}

func newFakeEvalRepo() *fakeEvalRepo {
	return &fakeEvalRepo{evals: make(map[string]*domain.Evaluation)}
}

func (r *fakeEvalRepo) put(eval *domain.Evaluation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *eval
	r.evals[eval.ID] = &clone
}

func (r *fakeEvalRepo) GetByID(_ context.Context, id string) (*domain.Evaluation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eval, ok := r.evals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *eval
	return &clone, nil
}

func (r *fakeEvalRepo) UpdateState(_ context.Context, id string, state domain.EvalState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eval, ok := r.evals[id]
	if !ok {
		return repository.ErrNotFound
	}
	eval.State = state
	r.saved = append(r.saved, state)
	return nil
}

func (r *fakeEvalRepo) savedStates() []domain.EvalState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EvalState, len(r.saved))
	copy(out, r.saved)
	return out
}

// countingGateway tallies sends without any transport behind it.
type countingGateway struct {
	mu        sync.Mutex
	created   int
	available int
	reminders int
	viewable  int
}

func (g *countingGateway) SendCreated(context.Context, *domain.Evaluation, bool) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created++
	return []string{"evaluator-1"}, nil
}

func (g *countingGateway) SendAvailable(context.Context, *domain.Evaluation, bool) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.available++
	return []string{"evaluator-1", "evaluatee-1"}, nil
}

func (g *countingGateway) SendReminder(context.Context, string, string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reminders++
	return []string{"evaluatee-1"}, nil
}

func (g *countingGateway) SendViewable(context.Context, *domain.Evaluation, bool, bool) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.viewable++
	return []string{"evaluatee-1"}, nil
}

type nopRegistrar struct{}

func (nopRegistrar) RegisterEvent(context.Context, string, *domain.Evaluation) {}

type e2eFixture struct {
	repo    *fakeEvalRepo
	gateway *countingGateway
	store   *scheduler.MemoryStore
	lc      *scheduler.LifecycleScheduler
	cur     time.Time
}

func newE2EFixture(start time.Time) *e2eFixture {
	f := &e2eFixture{
		repo:    newFakeEvalRepo(),
		gateway: &countingGateway{},
		store:   scheduler.NewMemoryStore(),
		cur:     start,
	}
	clock := func() time.Time { return f.cur }
	cfg := settings.NewMemoryStore()
	f.lc = scheduler.NewLifecycleScheduler(f.store, cfg, logger.NewNop()).WithClock(clock)
	d := scheduler.NewActionDispatcher(f.repo, f.lc, f.gateway, nopRegistrar{}, cfg, logger.NewNop()).WithClock(clock)
	f.store.Subscribe(d.HandleFired)
	return f
}

// advance moves the simulated clock and delivers everything now due.
func (f *e2eFixture) advance(t *testing.T, to time.Time) {
	t.Helper()
	require.False(t, to.Before(f.cur), "clock moved backwards")
	f.cur = to
	f.store.FireDue(context.Background(), to)
}

func TestLifecycle_EndToEnd(t *testing.T) {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	start := base.Add(24 * time.Hour)
	due := start.AddDate(0, 0, 6)

	f := newE2EFixture(base)
	eval := &domain.Evaluation{
		ID:           "eval-1",
		OwnerID:      "owner-1",
		StartDate:    start,
		DueDate:      timePtr(due),
		State:        domain.StateInQueue,
		ReminderDays: 2,
	}
	f.repo.put(eval)
	require.NoError(t, f.lc.OnEvaluationCreated(context.Background(), eval))
	require.Len(t, f.store.Pending(), 1)

	// Nothing happens before the start date.
	f.advance(t, start.Add(-time.Minute))
	assert.Empty(t, f.repo.savedStates())

	// Activation: one availability mail, due boundary and reminders seeded.
	f.advance(t, start)
	assert.Equal(t, []domain.EvalState{domain.StateActive}, f.repo.savedStates())
	assert.Equal(t, 1, f.gateway.available)
	assert.Contains(t, pendingKeys(f.store), scheduler.ActionKey("eval-1", domain.ActionBecomeDue))

	// Two reminders fit before the due date (start+2d, start+4d).
	f.advance(t, start.AddDate(0, 0, 2))
	assert.Equal(t, 1, f.gateway.reminders)
	f.advance(t, start.AddDate(0, 0, 4))
	assert.Equal(t, 2, f.gateway.reminders)

	// Extending the due date mid-flight reschedules the boundary and makes
	// room for the third reminder at start+6d.
	current, err := f.repo.GetByID(context.Background(), "eval-1")
	require.NoError(t, err)
	newDue := start.AddDate(0, 0, 8)
	current.DueDate = timePtr(newDue)
	f.repo.put(current)
	require.NoError(t, f.lc.OnEvaluationDatesChanged(context.Background(), current))

	f.advance(t, start.AddDate(0, 0, 6))
	assert.Equal(t, 3, f.gateway.reminders)
	assert.Equal(t, []domain.EvalState{domain.StateActive}, f.repo.savedStates())

	// At the due date the cascade runs to the terminal state: stop and view
	// both fall back to due, so Due, Closed and Viewable fire back to back.
	f.advance(t, newDue)
	assert.Equal(t, []domain.EvalState{
		domain.StateActive,
		domain.StateDue,
		domain.StateClosed,
		domain.StateViewable,
	}, f.repo.savedStates())
	assert.Equal(t, 1, f.gateway.viewable)
	assert.Empty(t, f.store.Pending())

	// Extra time passes with nothing left to do.
	f.advance(t, newDue.AddDate(0, 1, 0))
	assert.Equal(t, 3, f.gateway.reminders)
	assert.Equal(t, 1, f.gateway.viewable)
}

func TestLifecycle_MisfireCascadeAfterDowntime(t *testing.T) {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	start := base.Add(24 * time.Hour)
	due := start.AddDate(0, 0, 5)
	stop := due.AddDate(0, 0, 2)
	view := stop.AddDate(0, 0, 3)

	f := newE2EFixture(base)
	eval := &domain.Evaluation{
		ID:        "eval-1",
		OwnerID:   "owner-1",
		StartDate: start,
		DueDate:   timePtr(due),
		StopDate:  timePtr(stop),
		ViewDate:  timePtr(view),
		State:     domain.StateInQueue,
	}
	f.repo.put(eval)
	require.NoError(t, f.lc.OnEvaluationCreated(context.Background(), eval))

	// The scheduler was down across every boundary. A single delivery pass
	// must walk the evaluation through all missed transitions in order.
	f.advance(t, view.Add(time.Hour))
	assert.Equal(t, []domain.EvalState{
		domain.StateActive,
		domain.StateDue,
		domain.StateClosed,
		domain.StateViewable,
	}, f.repo.savedStates())
	assert.Empty(t, f.store.Pending())
}

// flakyStore fails the first Upsert for one key, then behaves normally.
type flakyStore struct {
	*scheduler.MemoryStore
	failKey string
	failed  bool
}

func (s *flakyStore) Upsert(ctx context.Context, action scheduler.DelayedAction) error {
	if !s.failed && action.Key == s.failKey {
		s.failed = true
		return errors.New("transient store failure")
	}
	return s.MemoryStore.Upsert(ctx, action)
}

func TestLifecycle_TransitionSurvivesReconcileFailure(t *testing.T) {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	start := base.Add(24 * time.Hour)
	due := start.AddDate(0, 0, 6)
	cur := base
	clock := func() time.Time { return cur }

	mem := scheduler.NewMemoryStore()
	store := &flakyStore{
		MemoryStore: mem,
		failKey:     scheduler.ActionKey("eval-1", domain.ActionBecomeDue),
	}
	cfg := settings.NewMemoryStore()
	repo := newFakeEvalRepo()
	gateway := &countingGateway{}
	lc := scheduler.NewLifecycleScheduler(store, cfg, logger.NewNop()).WithClock(clock)
	d := scheduler.NewActionDispatcher(repo, lc, gateway, nopRegistrar{}, cfg, logger.NewNop()).WithClock(clock)
	mem.Subscribe(d.HandleFired)

	eval := &domain.Evaluation{
		ID:        "eval-1",
		OwnerID:   "owner-1",
		StartDate: start,
		DueDate:   timePtr(due),
		State:     domain.StateInQueue,
	}
	repo.put(eval)
	require.NoError(t, lc.OnEvaluationCreated(context.Background(), eval))

	// First delivery: the state persists but seeding become-due fails, so the
	// action must be redelivered rather than consumed.
	cur = start
	mem.FireDue(context.Background(), cur)
	assert.Equal(t, []domain.EvalState{domain.StateActive}, repo.savedStates())
	require.Len(t, mem.Pending(), 1)

	// Redelivery hits the duplicate path: no second flip or mail, but the
	// follow-up boundary finally lands in the store.
	mem.FireDue(context.Background(), cur)
	assert.Equal(t, []domain.EvalState{domain.StateActive}, repo.savedStates())
	assert.Equal(t, 1, gateway.available)
	assert.Contains(t, pendingKeys(mem), scheduler.ActionKey("eval-1", domain.ActionBecomeDue))

	// The evaluation is not stuck: the due boundary still fires.
	cur = due
	mem.FireDue(context.Background(), cur)
	assert.Equal(t, []domain.EvalState{
		domain.StateActive,
		domain.StateDue,
		domain.StateClosed,
		domain.StateViewable,
	}, repo.savedStates())
	assert.Empty(t, mem.Pending())
}

func TestLifecycle_DeletedEvaluationGoesQuiet(t *testing.T) {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	start := base.Add(24 * time.Hour)

	f := newE2EFixture(base)
	eval := &domain.Evaluation{
		ID:        "eval-1",
		OwnerID:   "owner-1",
		StartDate: start,
		State:     domain.StateInQueue,
	}
	f.repo.put(eval)
	require.NoError(t, f.lc.OnEvaluationCreated(context.Background(), eval))

	// Row deleted but the action survived: firing it must be a clean no-op.
	f.repo.mu.Lock()
	delete(f.repo.evals, "eval-1")
	f.repo.mu.Unlock()

	f.advance(t, start)
	assert.Empty(t, f.repo.savedStates())
	assert.Equal(t, 0, f.gateway.available)
	assert.Empty(t, f.store.Pending())
}
