package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evaluation_service/internal/domain"
	"evaluation_service/internal/scheduler"
)

func TestActionKeys_RoundTrip(t *testing.T) {
	for _, kind := range domain.AllActionKinds {
		key := scheduler.ActionKey("eval-1", kind)
		id, parsed, err := scheduler.ParseKey(key)
		require.NoError(t, err)
		assert.Equal(t, "eval-1", id)
		assert.Equal(t, kind, parsed)
	}
}

func TestReminderKey_ParsesAsReminder(t *testing.T) {
	key := scheduler.ReminderKey("eval-1", 2)
	id, kind, err := scheduler.ParseKey(key)
	require.NoError(t, err)
	assert.Equal(t, "eval-1", id)
	assert.Equal(t, domain.ActionReminder, kind)
}

func TestParseKey_RejectsMalformedKeys(t *testing.T) {
	for _, key := range []string{"", "no-separator", "eval-1/not-a-kind"} {
		_, _, err := scheduler.ParseKey(key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestMemoryStore_UpsertReplacesPending(t *testing.T) {
	store := scheduler.NewMemoryStore()
	ctx := context.Background()
	key := scheduler.ActionKey("eval-1", domain.ActionBecomeActive)
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, scheduler.DelayedAction{
		Key: key, EvaluationID: "eval-1", Kind: domain.ActionBecomeActive, FireAt: at,
	}))
	require.NoError(t, store.Upsert(ctx, scheduler.DelayedAction{
		Key: key, EvaluationID: "eval-1", Kind: domain.ActionBecomeActive, FireAt: at.Add(time.Hour),
	}))

	found, err := store.Find(ctx, key)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].FireAt.Equal(at.Add(time.Hour)))
}

func TestMemoryStore_RedeliversAfterHandlerFailure(t *testing.T) {
	store := scheduler.NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, scheduler.DelayedAction{
		Key:          scheduler.ActionKey("eval-1", domain.ActionBecomeActive),
		EvaluationID: "eval-1",
		Kind:         domain.ActionBecomeActive,
		FireAt:       at,
	}))

	calls := 0
	store.Subscribe(func(context.Context, string, string) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})

	assert.Equal(t, 0, store.FireDue(ctx, at))
	require.Len(t, store.Pending(), 1)

	assert.Equal(t, 1, store.FireDue(ctx, at))
	assert.Empty(t, store.Pending())
	assert.Equal(t, 2, calls)
}

func TestMemoryStore_ConsumesOnSuccess(t *testing.T) {
	store := scheduler.NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, scheduler.DelayedAction{
		Key:          scheduler.ActionKey("eval-1", domain.ActionBecomeActive),
		EvaluationID: "eval-1",
		Kind:         domain.ActionBecomeActive,
		FireAt:       at,
	}))

	var seen []string
	store.Subscribe(func(_ context.Context, componentID, key string) error {
		assert.Equal(t, scheduler.ComponentID, componentID)
		seen = append(seen, key)
		return nil
	})

	store.FireDue(ctx, at)
	store.FireDue(ctx, at.Add(time.Hour))
	assert.Equal(t, []string{scheduler.ActionKey("eval-1", domain.ActionBecomeActive)}, seen)
}

func TestMemoryStore_DeleteKindLeavesOtherKinds(t *testing.T) {
	store := scheduler.NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, scheduler.DelayedAction{
		Key: scheduler.ActionKey("eval-1", domain.ActionBecomeDue), EvaluationID: "eval-1",
		Kind: domain.ActionBecomeDue, FireAt: at,
	}))
	require.NoError(t, store.Upsert(ctx, scheduler.DelayedAction{
		Key: scheduler.ReminderKey("eval-1", 1), EvaluationID: "eval-1",
		Kind: domain.ActionReminder, FireAt: at,
	}))
	require.NoError(t, store.Upsert(ctx, scheduler.DelayedAction{
		Key: scheduler.ReminderKey("eval-1", 2), EvaluationID: "eval-1",
		Kind: domain.ActionReminder, FireAt: at.Add(time.Hour),
	}))

	require.NoError(t, store.DeleteKind(ctx, "eval-1", domain.ActionReminder))

	pending := store.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.ActionBecomeDue, pending[0].Kind)
}
