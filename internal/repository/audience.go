package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Audience roles as stored in evaluation_users. Membership itself is resolved
// by an external collaborator; this table is only the materialized boundary.
const (
	AudienceOwner     = "owner"
	AudienceEvaluator = "evaluator"
	AudienceEvaluatee = "evaluatee"
	AudienceAdmin     = "admin"
)

type AudienceRepository struct {
	db *sql.DB
}

type AudienceRepositoryInterface interface {
	ListUsers(ctx context.Context, evaluationID string, roles []string) ([]string, error)
}

func NewAudienceRepository(db *sql.DB) *AudienceRepository {
	return &AudienceRepository{db: db}
}

func (r *AudienceRepository) ListUsers(ctx context.Context, evaluationID string, roles []string) ([]string, error) {
	query := `
		SELECT DISTINCT user_id FROM evaluation_users
		WHERE evaluation_id = $1 AND role = ANY($2)
	`

	rows, err := r.db.QueryContext(ctx, query, evaluationID, pq.Array(roles))
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluation users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}