package repository

import (
	"context"
	"errors"

	"arbiter/internal/common/db"
	"arbiter/internal/judge/model"
)

// ExecutionRepository persists diagnostic records for judging attempts.
// Rows are immutable; a rerun inserts a new row.
type ExecutionRepository interface {
	Create(ctx context.Context, tx db.Transaction, execution *model.Execution) error
	ListBySubmission(ctx context.Context, submissionID string) ([]*model.Execution, error)
}

// MySQLExecutionRepository implements ExecutionRepository with MySQL.
type MySQLExecutionRepository struct {
	db db.Database
}

// NewExecutionRepository creates an execution repository.
func NewExecutionRepository(database db.Database) ExecutionRepository {
	return &MySQLExecutionRepository{db: database}
}

const executionColumns = "execution_id, submission_id, answer, total_testcases, last_testcase_hit, fixture_key, observed_output, compile_log, created_at"

// Create inserts an execution record.
func (r *MySQLExecutionRepository) Create(ctx context.Context, tx db.Transaction, execution *model.Execution) error {
	if execution == nil {
		return errors.New("execution is nil")
	}
	if execution.ID == "" {
		return errors.New("executionID is required")
	}
	if execution.SubmissionID == "" {
		return errors.New("submissionID is required")
	}
	if !model.ValidAnswer(execution.Answer) {
		return errors.New("answer is invalid")
	}

	query := `
		INSERT INTO executions
		(execution_id, submission_id, answer, total_testcases, last_testcase_hit, fixture_key, observed_output, compile_log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		execution.ID,
		execution.SubmissionID,
		string(execution.Answer),
		execution.TotalTestcases,
		execution.LastTestcaseHit,
		execution.FixtureKey,
		model.TruncateOutput(execution.ObservedOutput),
		model.TruncateOutput(execution.CompileLog),
	)
	return err
}

// ListBySubmission returns a submission's executions, newest first.
func (r *MySQLExecutionRepository) ListBySubmission(ctx context.Context, submissionID string) ([]*model.Execution, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	query := "SELECT " + executionColumns + `
		FROM executions
		WHERE submission_id = ?
		ORDER BY created_at DESC, execution_id DESC
	`
	rows, err := r.db.Query(ctx, query, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*model.Execution
	for rows.Next() {
		execution := &model.Execution{}
		var answer string
		if err := rows.Scan(
			&execution.ID,
			&execution.SubmissionID,
			&answer,
			&execution.TotalTestcases,
			&execution.LastTestcaseHit,
			&execution.FixtureKey,
			&execution.ObservedOutput,
			&execution.CompileLog,
			&execution.CreatedAt,
		); err != nil {
			return nil, err
		}
		execution.Answer = model.Answer(answer)
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}
