package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evaluation_service/internal/domain"
	"evaluation_service/pkg/logger"
)

// PostgresStore is the durable ActionStore. A polling loop claims due rows
// with FOR UPDATE SKIP LOCKED so several service instances can share the
// table, delivers them to the subscribed handler, and deletes rows only after
// the handler succeeds — delivery is at least once. Actions whose fire time
// passed while the process was down are simply due on the first poll, which
// is the misfire catch-up.
type PostgresStore struct {
	db           *sql.DB
	log          *logger.Logger
	pollInterval time.Duration
	claimTTL     time.Duration
	batchSize    int

	mu      sync.RWMutex
	handler FiredHandler
}

func NewPostgresStore(db *sql.DB, log *logger.Logger, pollInterval time.Duration) *PostgresStore {
	return &PostgresStore{
		db:           db,
		log:          log,
		pollInterval: pollInterval,
		claimTTL:     5 * time.Minute,
		batchSize:    100,
	}
}

func (s *PostgresStore) Subscribe(handler FiredHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Upsert replaces any pending actions under the key inside one transaction,
// so a crash mid-reschedule never leaves the key without an action.
func (s *PostgresStore) Upsert(ctx context.Context, action DelayedAction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM delayed_actions WHERE component_id = $1 AND action_key = $2`,
		ComponentID, action.Key,
	); err != nil {
		return fmt.Errorf("failed to clear action %s: %w", action.Key, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate UUID: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO delayed_actions
			(id, component_id, action_key, evaluation_id, kind, fire_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id.String(), ComponentID, action.Key, action.EvaluationID,
		string(action.Kind), action.FireAt, time.Now(),
	); err != nil {
		return fmt.Errorf("failed to insert action %s: %w", action.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit action %s: %w", action.Key, err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, key string) ([]DelayedAction, error) {
	return s.query(ctx, `
		SELECT action_key, evaluation_id, kind, fire_at FROM delayed_actions
		WHERE component_id = $1 AND action_key = $2
		ORDER BY fire_at`,
		ComponentID, key,
	)
}

func (s *PostgresStore) ListByEvaluation(ctx context.Context, evaluationID string) ([]DelayedAction, error) {
	return s.query(ctx, `
		SELECT action_key, evaluation_id, kind, fire_at FROM delayed_actions
		WHERE component_id = $1 AND evaluation_id = $2
		ORDER BY fire_at`,
		ComponentID, evaluationID,
	)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM delayed_actions WHERE component_id = $1 AND action_key = $2`,
		ComponentID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete action %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) DeleteKind(ctx context.Context, evaluationID string, kind domain.ActionKind) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM delayed_actions WHERE component_id = $1 AND evaluation_id = $2 AND kind = $3`,
		ComponentID, evaluationID, string(kind),
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s actions: %w", kind, err)
	}
	return nil
}

// Start runs the poll loop until the context is cancelled.
func (s *PostgresStore) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("delayed action poller stopped")
			return
		case <-ticker.C:
			if n, err := s.requeueStale(ctx); err != nil {
				s.log.Error("failed to requeue stale claims", zap.Error(err))
			} else if n > 0 {
				s.log.Warn("requeued stale claimed actions", zap.Int("count", n))
			}
			s.fireDue(ctx)
		}
	}
}

type claimedAction struct {
	id     string
	action DelayedAction
}

func (s *PostgresStore) fireDue(ctx context.Context) {
	claimed, err := s.claimDue(ctx)
	if err != nil {
		s.log.Error("failed to claim due actions", zap.Error(err))
		return
	}

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()

	for _, c := range claimed {
		if handler == nil {
			s.release(ctx, c.id)
			continue
		}
		if err := handler(ctx, ComponentID, c.action.Key); err != nil {
			s.log.Error("action handler failed, will redeliver",
				zap.String("key", c.action.Key), zap.Error(err))
			s.release(ctx, c.id)
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM delayed_actions WHERE id = $1`, c.id); err != nil {
			s.log.Error("failed to delete fired action",
				zap.String("key", c.action.Key), zap.Error(err))
		}
	}
}

func (s *PostgresStore) claimDue(ctx context.Context) ([]claimedAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE delayed_actions SET claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM delayed_actions
			WHERE component_id = $1 AND fire_at <= NOW() AND claimed_at IS NULL
			ORDER BY fire_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, action_key, evaluation_id, kind, fire_at`,
		ComponentID, s.batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due actions: %w", err)
	}
	defer rows.Close()

	var claimed []claimedAction
	for rows.Next() {
		var c claimedAction
		var kind string
		if err := rows.Scan(&c.id, &c.action.Key, &c.action.EvaluationID, &kind, &c.action.FireAt); err != nil {
			return nil, fmt.Errorf("failed to scan claimed action: %w", err)
		}
		c.action.Kind = domain.ActionKind(kind)
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return claimed, nil
}

// release clears a claim so the action is redelivered on a later poll.
func (s *PostgresStore) release(ctx context.Context, id string) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE delayed_actions SET claimed_at = NULL WHERE id = $1`, id,
	); err != nil {
		s.log.Error("failed to release claimed action", zap.String("id", id), zap.Error(err))
	}
}

// requeueStale recovers actions claimed by a process that crashed mid-handling.
func (s *PostgresStore) requeueStale(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE delayed_actions SET claimed_at = NULL
		WHERE component_id = $1 AND claimed_at IS NOT NULL AND claimed_at < $2`,
		ComponentID, time.Now().Add(-s.claimTTL),
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...interface{}) ([]DelayedAction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var actions []DelayedAction
	for rows.Next() {
		var a DelayedAction
		var kind string
		if err := rows.Scan(&a.Key, &a.EvaluationID, &kind, &a.FireAt); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		a.Kind = domain.ActionKind(kind)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return actions, nil
}
