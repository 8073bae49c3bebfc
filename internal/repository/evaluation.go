package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"evaluation_service/internal/domain"
)

type EvaluationRepository struct {
	db *sql.DB
}

type EvaluationRepositoryInterface interface {
	Create(ctx context.Context, eval *domain.Evaluation) error
	GetByID(ctx context.Context, id string) (*domain.Evaluation, error)
	Update(ctx context.Context, eval *domain.Evaluation) error
	UpdateState(ctx context.Context, id string, state domain.EvalState) error
	Delete(ctx context.Context, id string) error
	ListByState(ctx context.Context, states []domain.EvalState) ([]*domain.Evaluation, error)
}

func NewEvaluationRepository(db *sql.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

const evaluationColumns = `
	id, owner_id, title, start_date, due_date, stop_date, view_date,
	instructors_view_date, students_view_date, state, reminder_days,
	results_private, created_at, edited_at
`

func (r *EvaluationRepository) Create(ctx context.Context, eval *domain.Evaluation) error {
	query := `
		INSERT INTO evaluations (` + evaluationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate UUID: %w", err)
	}

	now := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		id.String(),
		eval.OwnerID,
		eval.Title,
		eval.StartDate,
		eval.DueDate,
		eval.StopDate,
		eval.ViewDate,
		eval.InstructorsViewDate,
		eval.StudentsViewDate,
		string(eval.State),
		eval.ReminderDays,
		eval.ResultsPrivate,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create evaluation: %w", err)
	}

	eval.ID = id.String()
	eval.CreatedAt = now
	eval.EditedAt = now
	return nil
}

func (r *EvaluationRepository) GetByID(ctx context.Context, id string) (*domain.Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE id = $1`

	var eval domain.Evaluation
	var state string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&eval.ID,
		&eval.OwnerID,
		&eval.Title,
		&eval.StartDate,
		&eval.DueDate,
		&eval.StopDate,
		&eval.ViewDate,
		&eval.InstructorsViewDate,
		&eval.StudentsViewDate,
		&state,
		&eval.ReminderDays,
		&eval.ResultsPrivate,
		&eval.CreatedAt,
		&eval.EditedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}

	eval.State = domain.ToEvalState(state)
	return &eval, nil
}

func (r *EvaluationRepository) Update(ctx context.Context, eval *domain.Evaluation) error {
	query := `
		UPDATE evaluations
		SET title = $1, start_date = $2, due_date = $3, stop_date = $4,
		    view_date = $5, instructors_view_date = $6, students_view_date = $7,
		    reminder_days = $8, results_private = $9, edited_at = $10
		WHERE id = $11
	`
	result, err := r.db.ExecContext(ctx, query,
		eval.Title,
		eval.StartDate,
		eval.DueDate,
		eval.StopDate,
		eval.ViewDate,
		eval.InstructorsViewDate,
		eval.StudentsViewDate,
		eval.ReminderDays,
		eval.ResultsPrivate,
		time.Now(),
		eval.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update evaluation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateState flips the cached lifecycle state in a single write.
func (r *EvaluationRepository) UpdateState(ctx context.Context, id string, state domain.EvalState) error {
	query := `UPDATE evaluations SET state = $1, edited_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, string(state), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update evaluation state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *EvaluationRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM evaluations WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete evaluation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *EvaluationRepository) ListByState(ctx context.Context, states []domain.EvalState) ([]*domain.Evaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE state = ANY($1)`

	stateStrings := make([]string, 0, len(states))
	for _, s := range states {
		stateStrings = append(stateStrings, string(s))
	}

	rows, err := r.db.QueryContext(ctx, query, pq.Array(stateStrings))
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var evals []*domain.Evaluation
	for rows.Next() {
		var eval domain.Evaluation
		var state string
		if err := rows.Scan(
			&eval.ID,
			&eval.OwnerID,
			&eval.Title,
			&eval.StartDate,
			&eval.DueDate,
			&eval.StopDate,
			&eval.ViewDate,
			&eval.InstructorsViewDate,
			&eval.StudentsViewDate,
			&state,
			&eval.ReminderDays,
			&eval.ResultsPrivate,
			&eval.CreatedAt,
			&eval.EditedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		eval.State = domain.ToEvalState(state)
		evals = append(evals, &eval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return evals, nil
}
