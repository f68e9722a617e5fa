package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"arbiter/internal/common/cache"
	"arbiter/internal/common/db"
	"arbiter/internal/judge/model"
)

const (
	defaultSubmissionCacheTTL      = 30 * time.Minute
	defaultSubmissionCacheEmptyTTL = 5 * time.Minute
	submissionCacheKeyPrefix       = "submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error)

	// SetVerdict transitions a submission to JUDGED with the given answer.
	SetVerdict(ctx context.Context, tx db.Transaction, submissionID string, answer model.Answer, frozen bool) error

	// MarkFailed transitions a submission to FAILED after retry exhaustion.
	MarkFailed(ctx context.Context, tx db.Transaction, submissionID string) error

	// ResetForRerun puts a submission back into JUDGING with no answer.
	ResetForRerun(ctx context.Context, tx db.Transaction, submissionID string) error

	// ListJudgedByContest returns judged submissions in creation order.
	ListJudgedByContest(ctx context.Context, contestID int64) ([]*model.Submission, error)

	// ListJudgedByMemberProblem returns one member's judged submissions for
	// one problem in creation order.
	ListJudgedByMemberProblem(ctx context.Context, contestID, memberID, problemID int64) ([]*model.Submission, error)

	// ListFrozen returns submissions judged inside the freeze window.
	ListFrozen(ctx context.Context, contestID int64) ([]*model.Submission, error)

	// ClearFrozen releases the freeze marker for a whole contest.
	ClearFrozen(ctx context.Context, tx db.Transaction, contestID int64) error
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSubmissionRepository creates a submission repository with defaults.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) SubmissionRepository {
	return &MySQLSubmissionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultSubmissionCacheTTL,
		emptyTTL: defaultSubmissionCacheEmptyTTL,
	}
}

const submissionColumns = "submission_id, contest_id, problem_id, member_id, language_id, source_key, status, answer, frozen, archived, created_at, updated_at"

// Create inserts a submission record in status JUDGING with no answer.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.ID == "" {
		return errors.New("submissionID is required")
	}
	if submission.ContestID <= 0 {
		return errors.New("contestID is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if submission.MemberID <= 0 {
		return errors.New("memberID is required")
	}
	if submission.LanguageID == "" {
		return errors.New("languageID is required")
	}
	if submission.SourceKey == "" {
		return errors.New("sourceKey is required")
	}

	query := `
		INSERT INTO submissions
		(submission_id, contest_id, problem_id, member_id, language_id, source_key, status, answer)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.ID,
		submission.ContestID,
		submission.ProblemID,
		submission.MemberID,
		submission.LanguageID,
		submission.SourceKey,
		string(model.StatusJudging),
		string(model.AnswerNoAnswer),
	)
	return err
}

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	if r.cache != nil && tx == nil {
		submission, err := cache.GetWithCached[*model.Submission](
			ctx,
			r.cache,
			submissionCacheKey(submissionID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(submission *model.Submission) bool { return submission == nil },
			marshalSubmission,
			unmarshalSubmission,
			func(ctx context.Context) (*model.Submission, error) {
				submission, err := r.getByIDFromDB(ctx, nil, submissionID)
				if err != nil {
					if errors.Is(err, ErrSubmissionNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return submission, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if submission == nil {
			return nil, ErrSubmissionNotFound
		}
		return submission, nil
	}
	return r.getByIDFromDB(ctx, tx, submissionID)
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? AND archived = 0 LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID)
	submission, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

// SetVerdict transitions a submission to JUDGED.
func (r *MySQLSubmissionRepository) SetVerdict(ctx context.Context, tx db.Transaction, submissionID string, answer model.Answer, frozen bool) error {
	if submissionID == "" {
		return errors.New("submissionID is required")
	}
	if !model.ValidAnswer(answer) || answer == model.AnswerNoAnswer {
		return errors.New("answer is not a verdict")
	}

	query := `
		UPDATE submissions
		SET status = ?, answer = ?, frozen = ?, updated_at = NOW()
		WHERE submission_id = ? AND archived = 0
	`
	res, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		string(model.StatusJudged), string(answer), frozen, submissionID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrSubmissionNotFound
	}
	r.invalidate(ctx, submissionID)
	return nil
}

// MarkFailed transitions a submission to FAILED.
func (r *MySQLSubmissionRepository) MarkFailed(ctx context.Context, tx db.Transaction, submissionID string) error {
	if submissionID == "" {
		return errors.New("submissionID is required")
	}
	query := `
		UPDATE submissions
		SET status = ?, answer = ?, updated_at = NOW()
		WHERE submission_id = ? AND archived = 0
	`
	res, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		string(model.StatusFailed), string(model.AnswerNoAnswer), submissionID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrSubmissionNotFound
	}
	r.invalidate(ctx, submissionID)
	return nil
}

// ResetForRerun puts a submission back into JUDGING.
func (r *MySQLSubmissionRepository) ResetForRerun(ctx context.Context, tx db.Transaction, submissionID string) error {
	if submissionID == "" {
		return errors.New("submissionID is required")
	}
	query := `
		UPDATE submissions
		SET status = ?, answer = ?, frozen = 0, updated_at = NOW()
		WHERE submission_id = ? AND archived = 0
	`
	res, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		string(model.StatusJudging), string(model.AnswerNoAnswer), submissionID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrSubmissionNotFound
	}
	r.invalidate(ctx, submissionID)
	return nil
}

// ListJudgedByContest returns judged submissions in creation order.
func (r *MySQLSubmissionRepository) ListJudgedByContest(ctx context.Context, contestID int64) ([]*model.Submission, error) {
	if contestID <= 0 {
		return nil, errors.New("contestID is required")
	}
	query := "SELECT " + submissionColumns + `
		FROM submissions
		WHERE contest_id = ? AND status = ? AND archived = 0
		ORDER BY created_at ASC, submission_id ASC
	`
	return r.list(ctx, query, contestID, string(model.StatusJudged))
}

// ListJudgedByMemberProblem returns judged submissions for one cell.
func (r *MySQLSubmissionRepository) ListJudgedByMemberProblem(ctx context.Context, contestID, memberID, problemID int64) ([]*model.Submission, error) {
	if contestID <= 0 || memberID <= 0 || problemID <= 0 {
		return nil, errors.New("contestID, memberID and problemID are required")
	}
	query := "SELECT " + submissionColumns + `
		FROM submissions
		WHERE contest_id = ? AND member_id = ? AND problem_id = ? AND status = ? AND archived = 0
		ORDER BY created_at ASC, submission_id ASC
	`
	return r.list(ctx, query, contestID, memberID, problemID, string(model.StatusJudged))
}

// ListFrozen returns submissions judged inside the freeze window.
func (r *MySQLSubmissionRepository) ListFrozen(ctx context.Context, contestID int64) ([]*model.Submission, error) {
	if contestID <= 0 {
		return nil, errors.New("contestID is required")
	}
	query := "SELECT " + submissionColumns + `
		FROM submissions
		WHERE contest_id = ? AND frozen = 1 AND archived = 0
		ORDER BY created_at ASC, submission_id ASC
	`
	return r.list(ctx, query, contestID)
}

// ClearFrozen drops the freeze marker for a whole contest.
func (r *MySQLSubmissionRepository) ClearFrozen(ctx context.Context, tx db.Transaction, contestID int64) error {
	if contestID <= 0 {
		return errors.New("contestID is required")
	}
	query := "UPDATE submissions SET frozen = 0, updated_at = NOW() WHERE contest_id = ? AND frozen = 1"
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query, contestID)
	return err
}

func (r *MySQLSubmissionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*model.Submission, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []*model.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, submission)
	}
	return submissions, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	submission := &model.Submission{}
	var status, answer string
	if err := row.Scan(
		&submission.ID,
		&submission.ContestID,
		&submission.ProblemID,
		&submission.MemberID,
		&submission.LanguageID,
		&submission.SourceKey,
		&status,
		&answer,
		&submission.Frozen,
		&submission.Archived,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	); err != nil {
		return nil, err
	}
	submission.Status = model.Status(status)
	submission.Answer = model.Answer(answer)
	return submission, nil
}

func (r *MySQLSubmissionRepository) invalidate(ctx context.Context, submissionID string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Del(ctx, submissionCacheKey(submissionID))
}

func submissionCacheKey(submissionID string) string {
	return submissionCacheKeyPrefix + submissionID
}

func marshalSubmission(submission *model.Submission) string {
	if submission == nil {
		return ""
	}
	data, err := json.Marshal(submission)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalSubmission(data string) (*model.Submission, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var submission model.Submission
	if err := json.Unmarshal([]byte(data), &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}
