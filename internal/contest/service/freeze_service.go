package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"arbiter/internal/broadcast"
	"arbiter/internal/common/db"
	contestrepo "arbiter/internal/contest/repository"
	judgemodel "arbiter/internal/judge/model"
	judgerepo "arbiter/internal/judge/repository"
	"arbiter/internal/ranking"
	appErr "arbiter/pkg/errors"
	"arbiter/pkg/utils/logger"
)

// FreezeService drives the admin-triggered freeze and unfreeze
// transitions of a contest leaderboard.
type FreezeService struct {
	database    db.Database
	contests    contestrepo.ContestRepository
	submissions judgerepo.SubmissionRepository
	engine      *ranking.Engine
	snapshots   *ranking.SnapshotStore
	broadcaster broadcast.Broadcaster
}

func NewFreezeService(
	database db.Database,
	contests contestrepo.ContestRepository,
	submissions judgerepo.SubmissionRepository,
	engine *ranking.Engine,
	snapshots *ranking.SnapshotStore,
	broadcaster broadcast.Broadcaster,
) (*FreezeService, error) {
	if database == nil || contests == nil || submissions == nil {
		return nil, errors.New("database and repositories are required")
	}
	if engine == nil || snapshots == nil {
		return nil, errors.New("ranking engine and snapshot store are required")
	}
	return &FreezeService{
		database:    database,
		contests:    contests,
		submissions: submissions,
		engine:      engine,
		snapshots:   snapshots,
		broadcaster: broadcaster,
	}, nil
}

// Freeze pins the public leaderboard. The board computed at this
// instant is snapshotted and served unchanged until Unfreeze; verdicts
// landing afterwards carry the frozen flag and stay withheld.
func (s *FreezeService) Freeze(ctx context.Context, contestID int64) error {
	contest, err := s.contests.GetByID(ctx, nil, contestID)
	if err != nil {
		return err
	}
	if contest.IsFrozen {
		return appErr.New(appErr.ContestFrozen)
	}

	board, err := s.engine.Rebuild(ctx, contest)
	if err != nil {
		return appErr.Wrap(err, appErr.LeaderboardBuildFailed)
	}
	// The snapshot goes in before the flag flips: a frozen contest must
	// never be observable without its freeze-time board.
	if err := s.snapshots.Save(ctx, board); err != nil {
		return appErr.Wrap(err, appErr.LeaderboardSnapshotFailed)
	}

	frozenAt := time.Now()
	err = db.WithTransaction(ctx, s.database, func(scope *db.TxScope) error {
		if err := s.contests.SetFrozen(ctx, scope.Tx(), contestID, frozenAt); err != nil {
			return err
		}
		scope.AfterCommit(func(ctx context.Context) {
			if s.broadcaster == nil {
				return
			}
			if err := s.broadcaster.Frozen(ctx, contestID, frozenAt); err != nil {
				logger.Warn(ctx, "freeze broadcast failed",
					zap.Int64("contest_id", contestID), zap.Error(err))
			}
		})
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "leaderboard frozen",
		zap.Int64("contest_id", contestID),
		zap.Time("frozen_at", frozenAt))
	return nil
}

// Unfreeze releases the freeze window in one batch: the frozen flag is
// cleared on the contest and every withheld submission in a single
// transaction, and after the commit one broadcast carries the corrected
// leaderboard together with all released verdicts.
func (s *FreezeService) Unfreeze(ctx context.Context, contestID int64) error {
	contest, err := s.contests.GetByID(ctx, nil, contestID)
	if err != nil {
		return err
	}
	if !contest.IsFrozen {
		return appErr.New(appErr.ContestNotFrozen)
	}

	released, err := s.submissions.ListFrozen(ctx, contestID)
	if err != nil {
		return err
	}

	err = db.WithTransaction(ctx, s.database, func(scope *db.TxScope) error {
		if err := s.contests.SetUnfrozen(ctx, scope.Tx(), contestID); err != nil {
			return err
		}
		if err := s.submissions.ClearFrozen(ctx, scope.Tx(), contestID); err != nil {
			return err
		}
		scope.AfterCommit(func(ctx context.Context) {
			s.announceUnfrozen(ctx, contest.ID, released)
		})
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "leaderboard unfrozen",
		zap.Int64("contest_id", contestID),
		zap.Int("released", len(released)))
	return nil
}

func (s *FreezeService) announceUnfrozen(ctx context.Context, contestID int64, released []*judgemodel.Submission) {
	thawed, err := s.contests.GetByID(ctx, nil, contestID)
	if err != nil {
		logger.Error(ctx, "reload contest after unfreeze failed",
			zap.Int64("contest_id", contestID), zap.Error(err))
		return
	}
	board, err := s.engine.Rebuild(ctx, thawed)
	if err != nil {
		logger.Error(ctx, "leaderboard rebuild after unfreeze failed",
			zap.Int64("contest_id", contestID), zap.Error(err))
		return
	}
	if err := s.snapshots.Delete(ctx, contestID); err != nil {
		logger.Warn(ctx, "freeze snapshot delete failed",
			zap.Int64("contest_id", contestID), zap.Error(err))
	}
	if s.broadcaster == nil {
		return
	}
	// Released verdicts reflect their cleared state in the batch.
	batch := make([]*judgemodel.Submission, 0, len(released))
	for _, sub := range released {
		clone := *sub
		clone.Frozen = false
		batch = append(batch, &clone)
	}
	if err := s.broadcaster.Unfrozen(ctx, board, batch); err != nil {
		logger.Warn(ctx, "unfreeze broadcast failed",
			zap.Int64("contest_id", contestID), zap.Error(err))
	}
}
