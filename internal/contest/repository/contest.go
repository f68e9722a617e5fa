package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"arbiter/internal/common/cache"
	"arbiter/internal/common/db"
	"arbiter/internal/contest/model"
)

const (
	defaultContestCacheTTL      = 10 * time.Minute
	defaultContestCacheEmptyTTL = time.Minute
	contestCacheKeyPrefix       = "contest:"
)

var (
	ErrContestNotFound = errors.New("contest not found")
	ErrMemberNotFound  = errors.New("member not found")
	ErrProblemNotFound = errors.New("problem not found")
)

// ContestRepository defines contest persistence interfaces.
type ContestRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error)

	// SetFrozen records the freeze transition.
	SetFrozen(ctx context.Context, tx db.Transaction, contestID int64, frozenAt time.Time) error

	// SetUnfrozen clears the freeze state.
	SetUnfrozen(ctx context.Context, tx db.Transaction, contestID int64) error

	// SetAutoJudge toggles dispatch for new submissions.
	SetAutoJudge(ctx context.Context, contestID int64, enabled bool) error
}

// MySQLContestRepository implements ContestRepository with MySQL.
type MySQLContestRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewContestRepository creates a contest repository.
func NewContestRepository(database db.Database, cacheClient cache.Cache) ContestRepository {
	return &MySQLContestRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultContestCacheTTL,
		emptyTTL: defaultContestCacheEmptyTTL,
	}
}

const contestColumns = "contest_id, name, start_at, end_at, auto_judge, frozen_at, is_frozen, archived, created_at, updated_at"

// GetByID retrieves a contest by id.
func (r *MySQLContestRepository) GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error) {
	if contestID <= 0 {
		return nil, errors.New("contestID is required")
	}
	if r.cache != nil && tx == nil {
		contest, err := cache.GetWithCached[*model.Contest](
			ctx,
			r.cache,
			contestCacheKey(contestID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(contest *model.Contest) bool { return contest == nil },
			marshalContest,
			unmarshalContest,
			func(ctx context.Context) (*model.Contest, error) {
				contest, err := r.getByIDFromDB(ctx, nil, contestID)
				if err != nil {
					if errors.Is(err, ErrContestNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return contest, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if contest == nil {
			return nil, ErrContestNotFound
		}
		return contest, nil
	}
	return r.getByIDFromDB(ctx, tx, contestID)
}

func (r *MySQLContestRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error) {
	query := "SELECT " + contestColumns + " FROM contests WHERE contest_id = ? AND archived = 0 LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, contestID)
	contest := &model.Contest{}
	var frozenAt *time.Time
	if err := row.Scan(
		&contest.ID,
		&contest.Name,
		&contest.StartAt,
		&contest.EndAt,
		&contest.AutoJudge,
		&frozenAt,
		&contest.IsFrozen,
		&contest.Archived,
		&contest.CreatedAt,
		&contest.UpdatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	contest.FrozenAt = frozenAt
	return contest, nil
}

// SetFrozen marks the contest frozen.
func (r *MySQLContestRepository) SetFrozen(ctx context.Context, tx db.Transaction, contestID int64, frozenAt time.Time) error {
	if contestID <= 0 {
		return errors.New("contestID is required")
	}
	query := `
		UPDATE contests
		SET is_frozen = 1, frozen_at = ?, updated_at = NOW()
		WHERE contest_id = ? AND archived = 0 AND is_frozen = 0
	`
	res, err := db.GetQuerier(r.db, tx).Exec(ctx, query, frozenAt, contestID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrContestNotFound
	}
	r.invalidate(ctx, contestID)
	return nil
}

// SetUnfrozen clears the freeze state.
func (r *MySQLContestRepository) SetUnfrozen(ctx context.Context, tx db.Transaction, contestID int64) error {
	if contestID <= 0 {
		return errors.New("contestID is required")
	}
	query := `
		UPDATE contests
		SET is_frozen = 0, frozen_at = NULL, updated_at = NOW()
		WHERE contest_id = ? AND archived = 0 AND is_frozen = 1
	`
	res, err := db.GetQuerier(r.db, tx).Exec(ctx, query, contestID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrContestNotFound
	}
	r.invalidate(ctx, contestID)
	return nil
}

// SetAutoJudge toggles dispatch for new submissions.
func (r *MySQLContestRepository) SetAutoJudge(ctx context.Context, contestID int64, enabled bool) error {
	if contestID <= 0 {
		return errors.New("contestID is required")
	}
	query := "UPDATE contests SET auto_judge = ?, updated_at = NOW() WHERE contest_id = ? AND archived = 0"
	res, err := r.db.Exec(ctx, query, enabled, contestID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrContestNotFound
	}
	r.invalidate(ctx, contestID)
	return nil
}

func (r *MySQLContestRepository) invalidate(ctx context.Context, contestID int64) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Del(ctx, contestCacheKey(contestID))
}

func contestCacheKey(contestID int64) string {
	return contestCacheKeyPrefix + formatID(contestID)
}

func marshalContest(contest *model.Contest) string {
	if contest == nil {
		return ""
	}
	data, err := json.Marshal(contest)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalContest(data string) (*model.Contest, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var contest model.Contest
	if err := json.Unmarshal([]byte(data), &contest); err != nil {
		return nil, err
	}
	return &contest, nil
}
