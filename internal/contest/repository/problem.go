package repository

import (
	"context"
	"errors"

	"arbiter/internal/common/db"
	"arbiter/internal/contest/model"
)

// ProblemRepository defines problem persistence interfaces.
type ProblemRepository interface {
	GetByID(ctx context.Context, problemID int64) (*model.Problem, error)

	// ListByContest returns the contest problems in letter order.
	ListByContest(ctx context.Context, contestID int64) ([]*model.Problem, error)
}

// MySQLProblemRepository implements ProblemRepository with MySQL.
type MySQLProblemRepository struct {
	db db.Database
}

// NewProblemRepository creates a problem repository.
func NewProblemRepository(database db.Database) ProblemRepository {
	return &MySQLProblemRepository{db: database}
}

const problemColumns = "problem_id, contest_id, letter, title, time_limit_ms, memory_limit_mb, fixture_key, fixture_hash, archived"

// GetByID retrieves a problem by id.
func (r *MySQLProblemRepository) GetByID(ctx context.Context, problemID int64) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, errors.New("problemID is required")
	}
	query := "SELECT " + problemColumns + " FROM problems WHERE problem_id = ? AND archived = 0 LIMIT 1"
	row := r.db.QueryRow(ctx, query, problemID)
	problem, err := scanProblem(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return problem, nil
}

// ListByContest returns the contest problems in letter order.
func (r *MySQLProblemRepository) ListByContest(ctx context.Context, contestID int64) ([]*model.Problem, error) {
	if contestID <= 0 {
		return nil, errors.New("contestID is required")
	}
	query := "SELECT " + problemColumns + " FROM problems WHERE contest_id = ? AND archived = 0 ORDER BY letter ASC, problem_id ASC"
	rows, err := r.db.Query(ctx, query, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var problems []*model.Problem
	for rows.Next() {
		problem, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		problems = append(problems, problem)
	}
	return problems, rows.Err()
}

func scanProblem(row scanner) (*model.Problem, error) {
	problem := &model.Problem{}
	if err := row.Scan(
		&problem.ID,
		&problem.ContestID,
		&problem.Letter,
		&problem.Title,
		&problem.TimeLimitMS,
		&problem.MemoryLimitMB,
		&problem.FixtureKey,
		&problem.FixtureHash,
		&problem.Archived,
	); err != nil {
		return nil, err
	}
	return problem, nil
}
