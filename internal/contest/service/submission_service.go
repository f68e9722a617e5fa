package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arbiter/internal/broadcast"
	"arbiter/internal/common/db"
	"arbiter/internal/common/storage"
	contestmodel "arbiter/internal/contest/model"
	contestrepo "arbiter/internal/contest/repository"
	judgemodel "arbiter/internal/judge/model"
	judgerepo "arbiter/internal/judge/repository"
	appErr "arbiter/pkg/errors"
	"arbiter/pkg/utils/logger"
)

// MaxSourceBytes bounds an accepted source blob.
const MaxSourceBytes = 256 << 10

// SubmissionService handles submission intake and explicit reruns.
type SubmissionService struct {
	database     db.Database
	submissions  judgerepo.SubmissionRepository
	contests     contestrepo.ContestRepository
	members      contestrepo.MemberRepository
	problems     contestrepo.ProblemRepository
	dispatcher   *Dispatcher
	broadcaster  broadcast.Broadcaster
	storage      storage.ObjectStorage
	sourceBucket string
}

func NewSubmissionService(
	database db.Database,
	submissions judgerepo.SubmissionRepository,
	contests contestrepo.ContestRepository,
	members contestrepo.MemberRepository,
	problems contestrepo.ProblemRepository,
	dispatcher *Dispatcher,
	broadcaster broadcast.Broadcaster,
	store storage.ObjectStorage,
	sourceBucket string,
) (*SubmissionService, error) {
	if database == nil || submissions == nil || contests == nil || members == nil || problems == nil {
		return nil, errors.New("database and repositories are required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if store == nil || sourceBucket == "" {
		return nil, errors.New("object storage and source bucket are required")
	}
	return &SubmissionService{
		database:     database,
		submissions:  submissions,
		contests:     contests,
		members:      members,
		problems:     problems,
		dispatcher:   dispatcher,
		broadcaster:  broadcaster,
		storage:      store,
		sourceBucket: sourceBucket,
	}, nil
}

// CreateSubmissionInput carries one intake request.
type CreateSubmissionInput struct {
	ContestID  int64
	ProblemID  int64
	MemberID   int64
	LanguageID string
	SourceCode string
}

// Create stores a new submission and, when the contest auto-judges,
// dispatches it after the transaction commits. With auto-judge off the
// submission stays JUDGING until an operator reruns it.
func (s *SubmissionService) Create(ctx context.Context, input CreateSubmissionInput) (*judgemodel.Submission, error) {
	contest, member, problem, err := s.loadContext(ctx, input.ContestID, input.MemberID, input.ProblemID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if !contest.Running(now) {
		if now.Before(contest.StartAt) {
			return nil, appErr.New(appErr.ContestNotStarted)
		}
		return nil, appErr.New(appErr.ContestEnded)
	}
	if input.LanguageID == "" {
		return nil, appErr.ValidationError("language_id", "required")
	}
	if input.SourceCode == "" {
		return nil, appErr.ValidationError("source_code", "required")
	}
	if len(input.SourceCode) > MaxSourceBytes {
		return nil, appErr.New(appErr.ObjectTooLarge).WithMessagef("source exceeds %d bytes", MaxSourceBytes)
	}

	submissionID := uuid.NewString()
	sourceKey, err := s.storeSource(ctx, contest.ID, submissionID, input.SourceCode)
	if err != nil {
		return nil, err
	}

	sub := &judgemodel.Submission{
		ID:         submissionID,
		ContestID:  contest.ID,
		ProblemID:  problem.ID,
		MemberID:   member.ID,
		LanguageID: input.LanguageID,
		SourceKey:  sourceKey,
		Status:     judgemodel.StatusJudging,
		Answer:     judgemodel.AnswerNoAnswer,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = db.WithTransaction(ctx, s.database, func(scope *db.TxScope) error {
		if err := s.submissions.Create(ctx, scope.Tx(), sub); err != nil {
			return err
		}
		scope.AfterCommit(func(ctx context.Context) {
			s.announceCreated(ctx, sub)
			s.dispatch(ctx, contest, sub, false)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Rerun resets a submission and enqueues a fresh judging attempt on the
// rejudge lane. Unlike intake, reruns work on ended contests too.
func (s *SubmissionService) Rerun(ctx context.Context, submissionID string) error {
	sub, err := s.submissions.GetByID(ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, judgerepo.ErrSubmissionNotFound) {
			return appErr.Wrap(err, appErr.SubmissionNotFound)
		}
		return err
	}
	if sub.Status == judgemodel.StatusJudging {
		return appErr.New(appErr.SubmissionNotJudgeable).
			WithMessagef("submission %s is still being judged", sub.ID)
	}
	contest, err := s.contests.GetByID(ctx, nil, sub.ContestID)
	if err != nil {
		return err
	}

	return db.WithTransaction(ctx, s.database, func(scope *db.TxScope) error {
		if err := s.submissions.ResetForRerun(ctx, scope.Tx(), sub.ID); err != nil {
			return err
		}
		scope.AfterCommit(func(ctx context.Context) {
			reset := *sub
			reset.Status = judgemodel.StatusJudging
			reset.Answer = judgemodel.AnswerNoAnswer
			reset.Frozen = false
			s.announceUpdated(ctx, &reset)
			s.dispatch(ctx, contest, &reset, true)
		})
		return nil
	})
}

// storeSource uploads the source blob before the submission row exists.
// An orphaned blob from a failed create is harmless and swept later.
func (s *SubmissionService) storeSource(ctx context.Context, contestID int64, submissionID, source string) (string, error) {
	key := fmt.Sprintf("sources/%d/%s", contestID, submissionID)
	reader := io.NopCloser(strings.NewReader(source))
	if err := s.storage.PutObject(ctx, s.sourceBucket, key, reader, int64(len(source)), "text/plain"); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "store source for submission %s", submissionID)
	}
	return key, nil
}

func (s *SubmissionService) loadContext(ctx context.Context, contestID, memberID, problemID int64) (*contestmodel.Contest, *contestmodel.Member, *contestmodel.Problem, error) {
	contest, err := s.contests.GetByID(ctx, nil, contestID)
	if err != nil {
		return nil, nil, nil, err
	}
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return nil, nil, nil, err
	}
	if member.ContestID != contest.ID {
		return nil, nil, nil, appErr.New(appErr.MemberNotFound).WithMessage("member does not belong to contest")
	}
	problem, err := s.problems.GetByID(ctx, problemID)
	if err != nil {
		return nil, nil, nil, err
	}
	if problem.ContestID != contest.ID {
		return nil, nil, nil, appErr.New(appErr.ProblemNotFound).WithMessage("problem does not belong to contest")
	}
	return contest, member, problem, nil
}

// dispatch enqueues a judge task when the contest auto-judges. Reruns
// are operator actions and bypass the auto-judge gate.
func (s *SubmissionService) dispatch(ctx context.Context, contest *contestmodel.Contest, sub *judgemodel.Submission, rerun bool) {
	if !rerun && !contest.AutoJudge {
		logger.Info(ctx, "auto judge disabled, submission left pending",
			zap.String("submission_id", sub.ID),
			zap.Int64("contest_id", contest.ID))
		return
	}
	task := &judgemodel.JudgeTask{
		SubmissionID: sub.ID,
		ContestID:    sub.ContestID,
		ProblemID:    sub.ProblemID,
		MemberID:     sub.MemberID,
		LanguageID:   sub.LanguageID,
		SourceKey:    sub.SourceKey,
		Rerun:        rerun,
	}
	// The row is committed; a lost dispatch is recovered by rerun.
	if err := s.dispatcher.Enqueue(ctx, task); err != nil {
		logger.Error(ctx, "judge dispatch failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
	}
}

func (s *SubmissionService) announceCreated(ctx context.Context, sub *judgemodel.Submission) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Submission(ctx, broadcast.EventSubmissionCreated, sub); err != nil {
		logger.Warn(ctx, "submission created broadcast failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
	}
}

func (s *SubmissionService) announceUpdated(ctx context.Context, sub *judgemodel.Submission) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Submission(ctx, broadcast.EventSubmissionUpdated, sub); err != nil {
		logger.Warn(ctx, "submission updated broadcast failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
	}
}
