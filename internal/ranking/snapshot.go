package ranking

import (
	"context"
	"encoding/json"
	"fmt"

	"arbiter/internal/common/cache"
	apperrors "arbiter/pkg/errors"
)

const frozenSnapshotKeyPrefix = "leaderboard:frozen:"

// SnapshotStore persists the freeze-time leaderboard so every worker and
// reader serves the identical frozen standings until unfreeze.
type SnapshotStore struct {
	cache cache.Cache
}

// NewSnapshotStore creates a snapshot store.
func NewSnapshotStore(cacheClient cache.Cache) (*SnapshotStore, error) {
	if cacheClient == nil {
		return nil, fmt.Errorf("cache is required")
	}
	return &SnapshotStore{cache: cacheClient}, nil
}

// Save stores the freeze-time leaderboard. No TTL: the snapshot lives
// until the unfreeze transition deletes it.
func (s *SnapshotStore) Save(ctx context.Context, board *Leaderboard) error {
	if board == nil {
		return fmt.Errorf("leaderboard is nil")
	}
	board.Frozen = true
	data, err := json.Marshal(board)
	if err != nil {
		return apperrors.Wrap(err, apperrors.LeaderboardSnapshotFailed)
	}
	if err := s.cache.Set(ctx, snapshotKey(board.ContestID), string(data), 0); err != nil {
		return apperrors.Wrap(err, apperrors.LeaderboardSnapshotFailed)
	}
	return nil
}

// Load returns the stored snapshot, or nil when none exists.
func (s *SnapshotStore) Load(ctx context.Context, contestID int64) (*Leaderboard, error) {
	data, err := s.cache.Get(ctx, snapshotKey(contestID))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CacheError)
	}
	if data == "" {
		return nil, nil
	}
	var board Leaderboard
	if err := json.Unmarshal([]byte(data), &board); err != nil {
		return nil, apperrors.Wrap(err, apperrors.LeaderboardSnapshotFailed)
	}
	return &board, nil
}

// Delete drops the snapshot on unfreeze.
func (s *SnapshotStore) Delete(ctx context.Context, contestID int64) error {
	if err := s.cache.Del(ctx, snapshotKey(contestID)); err != nil {
		return apperrors.Wrap(err, apperrors.CacheError)
	}
	return nil
}

func snapshotKey(contestID int64) string {
	return fmt.Sprintf("%s%d", frozenSnapshotKeyPrefix, contestID)
}
