// Package service is the judge worker: it drains judge tasks off the
// dispatch queue, runs them through the sandbox, and commits the verdict
// together with its execution record before any event leaves the process.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arbiter/internal/broadcast"
	"arbiter/internal/common/db"
	"arbiter/internal/common/mq"
	"arbiter/internal/common/storage"
	contestmodel "arbiter/internal/contest/model"
	contestrepo "arbiter/internal/contest/repository"
	"arbiter/internal/judge/fixture"
	"arbiter/internal/judge/model"
	"arbiter/internal/judge/repository"
	"arbiter/internal/judge/sandbox"
	"arbiter/internal/judge/sandbox/profile"
	"arbiter/internal/judge/sandbox/result"
	"arbiter/internal/ranking"
	appErr "arbiter/pkg/errors"
	"arbiter/pkg/utils/contextkey"
	"arbiter/pkg/utils/logger"
)

// maxSourceBytes bounds a downloaded source blob.
const maxSourceBytes = 256 << 10

// Service handles judge tasks.
type Service struct {
	runner       sandbox.Service
	database     db.Database
	submissions  repository.SubmissionRepository
	executions   repository.ExecutionRepository
	contests     contestrepo.ContestRepository
	problems     contestrepo.ProblemRepository
	languages    *profile.Registry
	fixtures     *fixture.Loader
	storage      storage.ObjectStorage
	sourceBucket string
	broadcaster  broadcast.Broadcaster
	rankings     RankingUpdater
	queue        mq.MessageQueue
	retryTopic   string

	judgeTimeout   time.Duration
	storageTimeout time.Duration

	poolRetryMax  int
	poolRetryBase time.Duration
	poolRetryMaxD time.Duration

	sem chan struct{}
}

// Config holds worker dependencies and settings.
type Config struct {
	Runner       sandbox.Service
	Database     db.Database
	Submissions  repository.SubmissionRepository
	Executions   repository.ExecutionRepository
	Contests     contestrepo.ContestRepository
	Problems     contestrepo.ProblemRepository
	Languages    *profile.Registry
	Fixtures     *fixture.Loader
	Storage      storage.ObjectStorage
	SourceBucket string
	Broadcaster  broadcast.Broadcaster
	Rankings     RankingUpdater

	// Queue and RetryTopic serve pool-full requeues; judging proceeds
	// without them but a saturated pool then surfaces as a retryable
	// error instead of a delayed redelivery.
	Queue      mq.MessageQueue
	RetryTopic string

	JudgeTimeout   time.Duration
	StorageTimeout time.Duration

	PoolRetryMax      int
	PoolRetryBase     time.Duration
	PoolRetryMaxDelay time.Duration

	WorkerPoolSize int
}

// RankingUpdater recomputes one leaderboard cell after a verdict lands.
type RankingUpdater interface {
	UpdateCell(ctx context.Context, submission *model.Submission) (*ranking.Cell, error)
}

// NewService creates a new judge worker.
func NewService(cfg Config) (*Service, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("sandbox runner is required")
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Submissions == nil || cfg.Executions == nil {
		return nil, fmt.Errorf("submission and execution repositories are required")
	}
	if cfg.Contests == nil || cfg.Problems == nil {
		return nil, fmt.Errorf("contest and problem repositories are required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.Fixtures == nil {
		return nil, fmt.Errorf("fixture loader is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Service{
		runner:         cfg.Runner,
		database:       cfg.Database,
		submissions:    cfg.Submissions,
		executions:     cfg.Executions,
		contests:       cfg.Contests,
		problems:       cfg.Problems,
		languages:      cfg.Languages,
		fixtures:       cfg.Fixtures,
		storage:        cfg.Storage,
		sourceBucket:   cfg.SourceBucket,
		broadcaster:    cfg.Broadcaster,
		rankings:       cfg.Rankings,
		queue:          cfg.Queue,
		retryTopic:     cfg.RetryTopic,
		judgeTimeout:   cfg.JudgeTimeout,
		storageTimeout: cfg.StorageTimeout,
		poolRetryMax:   cfg.PoolRetryMax,
		poolRetryBase:  cfg.PoolRetryBase,
		poolRetryMaxD:  cfg.PoolRetryMaxDelay,
		sem:            make(chan struct{}, poolSize),
	}, nil
}

// HandleMessage processes one judge task. A nil return commits the
// message; returned errors are retried by the queue up to its ceiling
// and then land on the dead letter topic.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	task, err := decodeTask(msg)
	if err != nil {
		// A malformed task cannot succeed on redelivery.
		logger.Warn(ctx, "dropping undecodable judge task", zap.Error(err))
		return nil
	}
	ctx = taskContext(ctx, task)

	sub, err := s.submissions.GetByID(ctx, nil, task.SubmissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			logger.Warn(ctx, "dropping judge task for missing submission",
				zap.String("submission_id", task.SubmissionID))
			return nil
		}
		return err
	}
	if !sub.Judgeable() {
		// Duplicate delivery for an already judged submission.
		logger.Info(ctx, "dropping stale judge task",
			zap.String("submission_id", sub.ID),
			zap.String("status", string(sub.Status)))
		return nil
	}

	if !s.tryAcquireSlot() {
		return s.requeueForPoolFull(ctx, msg)
	}
	defer s.releaseSlot()

	return s.judge(ctx, sub)
}

func (s *Service) judge(ctx context.Context, sub *model.Submission) error {
	contest, err := s.contests.GetByID(ctx, nil, sub.ContestID)
	if err != nil {
		if errors.Is(err, contestrepo.ErrContestNotFound) {
			return s.failFatal(ctx, sub, err)
		}
		return err
	}
	problem, err := s.problems.GetByID(ctx, sub.ProblemID)
	if err != nil {
		if errors.Is(err, contestrepo.ErrProblemNotFound) {
			return s.failFatal(ctx, sub, err)
		}
		return err
	}
	language, ok := s.languages.Lookup(sub.LanguageID)
	if !ok {
		return s.failFatal(ctx, sub,
			appErr.Newf(appErr.LanguageNotSupported, "language %q is not configured", sub.LanguageID))
	}

	tests, err := s.fixtures.Load(ctx, problem.FixtureKey)
	if err != nil {
		if appErr.Is(err, appErr.FixtureCorrupted) {
			return s.failFatal(ctx, sub, err)
		}
		return err
	}
	source, err := s.downloadSource(ctx, sub.SourceKey)
	if err != nil {
		return err
	}

	ctxJudge := ctx
	if s.judgeTimeout > 0 {
		var cancel context.CancelFunc
		ctxJudge, cancel = context.WithTimeout(ctx, s.judgeTimeout)
		defer cancel()
	}
	res, err := s.runner.Judge(ctxJudge, sandbox.JudgeRequest{
		SubmissionID:  sub.ID,
		Language:      language,
		Source:        source,
		TimeLimitMS:   problem.TimeLimitMS,
		MemoryLimitMB: problem.MemoryLimitMB,
		Tests:         tests,
	})
	if err != nil {
		// Infrastructure fault, not a verdict. Let the queue retry.
		return err
	}

	answer, ok := verdictAnswer(res.Verdict)
	if !ok {
		return appErr.Newf(appErr.JudgeSystemError, "unmappable verdict %q", res.Verdict)
	}
	return s.commitVerdict(ctx, sub, contest.IsFrozen, answer, problem.FixtureKey, res)
}

// commitVerdict stores the verdict and its execution record in one
// transaction. Broadcast and the leaderboard cell update run only after
// the commit succeeds.
func (s *Service) commitVerdict(ctx context.Context, sub *model.Submission, frozen bool, answer model.Answer, fixtureKey string, res result.JudgeResult) error {
	exec := &model.Execution{
		ID:              uuid.NewString(),
		SubmissionID:    sub.ID,
		Answer:          answer,
		TotalTestcases:  res.TotalTests,
		LastTestcaseHit: res.LastTestIndex,
		FixtureKey:      fixtureKey,
		ObservedOutput:  res.ObservedOutput,
	}
	if res.Compile != nil {
		exec.CompileLog = res.Compile.Log
	}

	err := db.WithTransaction(ctx, s.database, func(scope *db.TxScope) error {
		if err := s.submissions.SetVerdict(ctx, scope.Tx(), sub.ID, answer, frozen); err != nil {
			return err
		}
		if err := s.executions.Create(ctx, scope.Tx(), exec); err != nil {
			return err
		}
		scope.AfterCommit(func(ctx context.Context) {
			judged := *sub
			judged.Status = model.StatusJudged
			judged.Answer = answer
			judged.Frozen = frozen
			s.announceVerdict(ctx, &judged)
		})
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "submission judged",
		zap.String("submission_id", sub.ID),
		zap.String("answer", string(answer)),
		zap.Bool("frozen", frozen),
		zap.Int("total_tests", res.TotalTests),
		zap.Int("last_test", res.LastTestIndex))
	return nil
}

// announceVerdict fans the committed verdict out. During a freeze the
// member stream stays silent and cell updates go to staff only.
func (s *Service) announceVerdict(ctx context.Context, judged *model.Submission) {
	if s.broadcaster != nil {
		var err error
		if judged.Frozen {
			err = s.broadcaster.SubmissionStaff(ctx, broadcast.EventSubmissionUpdated, judged)
		} else {
			err = s.broadcaster.Submission(ctx, broadcast.EventSubmissionUpdated, judged)
		}
		if err != nil {
			logger.Warn(ctx, "verdict broadcast failed", zap.Error(err))
		}
	}
	s.publishCell(ctx, judged)
}

// publishCell recomputes the affected member/problem cell and sends it
// to dashboards. While frozen only staff see the live board move.
func (s *Service) publishCell(ctx context.Context, judged *model.Submission) {
	if s.rankings == nil || s.broadcaster == nil {
		return
	}
	cell, err := s.rankings.UpdateCell(ctx, judged)
	if err != nil {
		logger.Warn(ctx, "leaderboard cell update failed",
			zap.String("submission_id", judged.ID), zap.Error(err))
		return
	}
	roles := contestmodel.Roles()
	if judged.Frozen {
		roles = broadcast.StaffRoles()
	}
	event := broadcast.CellEvent{MemberID: judged.MemberID, Cell: *cell}
	if err := s.broadcaster.CellUpdated(ctx, judged.ContestID, event, roles); err != nil {
		logger.Warn(ctx, "leaderboard cell broadcast failed",
			zap.String("submission_id", judged.ID), zap.Error(err))
	}
}

func (s *Service) downloadSource(ctx context.Context, sourceKey string) ([]byte, error) {
	ctxStorage := ctx
	if s.storageTimeout > 0 {
		var cancel context.CancelFunc
		ctxStorage, cancel = context.WithTimeout(ctx, s.storageTimeout)
		defer cancel()
	}
	reader, err := s.storage.GetObject(ctxStorage, s.sourceBucket, sourceKey)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "download source %s", sourceKey)
	}
	defer reader.Close()

	source, err := io.ReadAll(io.LimitReader(reader, maxSourceBytes+1))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "read source %s", sourceKey)
	}
	if len(source) > maxSourceBytes {
		return nil, appErr.Newf(appErr.ValidationFailed, "source %s exceeds %d bytes", sourceKey, maxSourceBytes)
	}
	return source, nil
}

func decodeTask(msg *mq.Message) (*model.JudgeTask, error) {
	if msg == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var task model.JudgeTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		return nil, appErr.Wrapf(err, appErr.EventDecodeError, "decode judge task")
	}
	if task.SubmissionID == "" || task.ContestID <= 0 || task.ProblemID <= 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("judge task missing required fields")
	}
	return &task, nil
}

func taskContext(ctx context.Context, task *model.JudgeTask) context.Context {
	ctx = context.WithValue(ctx, contextkey.SubmissionID, task.SubmissionID)
	ctx = context.WithValue(ctx, contextkey.ContestID, task.ContestID)
	ctx = context.WithValue(ctx, contextkey.MemberID, task.MemberID)
	return ctx
}

func verdictAnswer(v result.Verdict) (model.Answer, bool) {
	switch v {
	case result.VerdictAC:
		return model.AnswerAccepted, true
	case result.VerdictWA:
		return model.AnswerWrongAnswer, true
	case result.VerdictCE:
		return model.AnswerCompilationError, true
	case result.VerdictRE:
		return model.AnswerRuntimeError, true
	case result.VerdictTLE:
		return model.AnswerTimeLimitExceeded, true
	case result.VerdictMLE:
		return model.AnswerMemoryLimitExceeded, true
	}
	return "", false
}
