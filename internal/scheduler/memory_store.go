package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"evaluation_service/internal/domain"
)

// MemoryStore is an in-process ActionStore with the same delivery semantics
// as the Postgres store: actions are consumed on successful handling and
// redelivered after handler errors. FireDue drives simulated time, which is
// what the lifecycle tests run against.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[string][]DelayedAction
	handler FiredHandler
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string][]DelayedAction)}
}

func (m *MemoryStore) Upsert(_ context.Context, action DelayedAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[action.Key] = []DelayedAction{action}
	return nil
}

// Add appends without replacing. It exists to simulate the broken-invariant
// case of several pending actions under one key, which Upsert cannot produce.
func (m *MemoryStore) Add(action DelayedAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[action.Key] = append(m.actions[action.Key], action)
}

func (m *MemoryStore) Find(_ context.Context, key string) ([]DelayedAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := m.actions[key]
	out := make([]DelayedAction, len(found))
	copy(out, found)
	return out, nil
}

func (m *MemoryStore) ListByEvaluation(_ context.Context, evaluationID string) ([]DelayedAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DelayedAction
	for _, actions := range m.actions {
		for _, a := range actions {
			if a.EvaluationID == evaluationID {
				out = append(out, a)
			}
		}
	}
	sortActions(out)
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.actions, key)
	return nil
}

func (m *MemoryStore) DeleteKind(_ context.Context, evaluationID string, kind domain.ActionKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, actions := range m.actions {
		if len(actions) > 0 && actions[0].EvaluationID == evaluationID && actions[0].Kind == kind {
			delete(m.actions, key)
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(handler FiredHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// Pending returns every pending action, ordered by fire time.
func (m *MemoryStore) Pending() []DelayedAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DelayedAction
	for _, actions := range m.actions {
		out = append(out, actions...)
	}
	sortActions(out)
	return out
}

// FireDue delivers every action due at the given simulated time, repeating
// until a pass fires nothing so that misfire cascades (several boundaries
// crossed at once) run to completion. Returns the number of deliveries.
func (m *MemoryStore) FireDue(ctx context.Context, now time.Time) int {
	fired := 0
	var failed []DelayedAction
	for {
		due := m.takeDue(now)
		if len(due) == 0 {
			break
		}
		for _, action := range due {
			m.mu.Lock()
			handler := m.handler
			m.mu.Unlock()
			if handler == nil {
				continue
			}
			if err := handler(ctx, ComponentID, action.Key); err != nil {
				// Held back for redelivery by a later FireDue call.
				failed = append(failed, action)
				continue
			}
			fired++
		}
	}
	for _, action := range failed {
		m.Add(action)
	}
	return fired
}

// takeDue removes and returns all actions with fireAt <= now, earliest first.
// Removal happens before delivery so handlers observe one-shot semantics.
func (m *MemoryStore) takeDue(now time.Time) []DelayedAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []DelayedAction
	for key, actions := range m.actions {
		var remaining []DelayedAction
		for _, a := range actions {
			if !a.FireAt.After(now) {
				due = append(due, a)
			} else {
				remaining = append(remaining, a)
			}
		}
		if len(remaining) == 0 {
			delete(m.actions, key)
		} else {
			m.actions[key] = remaining
		}
	}
	sortActions(due)
	return due
}

func sortActions(actions []DelayedAction) {
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].FireAt.Equal(actions[j].FireAt) {
			return actions[i].Key < actions[j].Key
		}
		return actions[i].FireAt.Before(actions[j].FireAt)
	})
}
