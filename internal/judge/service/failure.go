package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"arbiter/internal/broadcast"
	"arbiter/internal/common/db"
	"arbiter/internal/common/mq"
	"arbiter/internal/judge/model"
	appErr "arbiter/pkg/errors"
	"arbiter/pkg/utils/logger"
)

// failFatal terminates a submission whose judge attempt can never
// succeed on redelivery. The message is dropped by returning nil.
func (s *Service) failFatal(ctx context.Context, sub *model.Submission, cause error) error {
	logger.Warn(ctx, "submission failed terminally",
		zap.String("submission_id", sub.ID),
		zap.Int("error_code", int(appErr.GetCode(cause))),
		zap.Error(cause))
	if err := s.markFailed(ctx, sub); err != nil {
		// Persisting the terminal state is itself retryable.
		return err
	}
	return nil
}

// HandleDeadLetter consumes judge tasks that exhausted the retry
// ceiling. It always returns nil so a dead letter is never requeued.
func (s *Service) HandleDeadLetter(ctx context.Context, msg *mq.Message) error {
	task, err := decodeTask(msg)
	if err != nil {
		logger.Warn(ctx, "discarding undecodable dead letter", zap.Error(err))
		return nil
	}
	ctx = taskContext(ctx, task)

	sub, err := s.submissions.GetByID(ctx, nil, task.SubmissionID)
	if err != nil {
		logger.Warn(ctx, "dead letter for unknown submission",
			zap.String("submission_id", task.SubmissionID), zap.Error(err))
		return nil
	}
	if !sub.Judgeable() {
		return nil
	}

	logger.Error(ctx, "judge retries exhausted, marking submission failed",
		zap.String("submission_id", sub.ID),
		zap.Int("retry_count", retryCount(msg)))
	if err := s.markFailed(ctx, sub); err != nil {
		logger.Error(ctx, "marking submission failed failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
	}
	return nil
}

// markFailed flips the submission to FAILED and raises the failed event
// after the commit. Unlike verdicts, a failure is never withheld by a
// freeze: it carries no score information.
func (s *Service) markFailed(ctx context.Context, sub *model.Submission) error {
	return db.WithTransaction(ctx, s.database, func(scope *db.TxScope) error {
		if err := s.submissions.MarkFailed(ctx, scope.Tx(), sub.ID); err != nil {
			return err
		}
		scope.AfterCommit(func(ctx context.Context) {
			if s.broadcaster == nil {
				return
			}
			failed := *sub
			failed.Status = model.StatusFailed
			failed.UpdatedAt = time.Now()
			if err := s.broadcaster.Submission(ctx, broadcast.EventSubmissionFailed, &failed); err != nil {
				logger.Warn(ctx, "failed event broadcast failed",
					zap.String("submission_id", sub.ID), zap.Error(err))
			}
		})
		return nil
	})
}

func retryCount(msg *mq.Message) int {
	if msg == nil {
		return 0
	}
	return msg.RetryCount
}
