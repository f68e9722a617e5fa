package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"arbiter/internal/common/cache"
	contestmodel "arbiter/internal/contest/model"
	"arbiter/internal/contest/service"
	judgemodel "arbiter/internal/judge/model"
	"arbiter/internal/ranking"
	appErr "arbiter/pkg/errors"
)

type freezeHarness struct {
	svc         *service.FreezeService
	snapshots   *ranking.SnapshotStore
	contests    *fakeContestRepo
	submissions *fakeSubmissionRepo
	broadcaster *fakeBroadcaster
}

func newFreezeHarness(t *testing.T, frozen bool) *freezeHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache failed: %v", err)
	}
	store, err := ranking.NewSnapshotStore(redisCache)
	if err != nil {
		t.Fatalf("new snapshot store failed: %v", err)
	}

	h := &freezeHarness{
		snapshots: store,
		contests: &fakeContestRepo{contest: &contestmodel.Contest{
			ID:       7,
			StartAt:  contestStart,
			EndAt:    contestStart.Add(5 * time.Hour),
			IsFrozen: frozen,
		}},
		submissions: &fakeSubmissionRepo{},
		broadcaster: &fakeBroadcaster{},
	}
	members := &fakeMemberRepo{members: map[int64]*contestmodel.Member{
		42: {ID: 42, ContestID: 7, Name: "alice", Role: contestmodel.RoleContestant},
	}}
	problems := &fakeProblemRepo{problems: map[int64]*contestmodel.Problem{
		100: {ID: 100, ContestID: 7, Letter: "A"},
	}}

	engine, err := ranking.NewEngine(h.contests, members, problems, h.submissions, store)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	svc, err := service.NewFreezeService(
		&fakeDatabase{}, h.contests, h.submissions, engine, store, h.broadcaster)
	if err != nil {
		t.Fatalf("new freeze service failed: %v", err)
	}
	h.svc = svc
	return h
}

func TestFreezeSnapshotsBoardBeforeFlag(t *testing.T) {
	t.Parallel()
	h := newFreezeHarness(t, false)

	if err := h.svc.Freeze(context.Background(), 7); err != nil {
		t.Fatalf("freeze failed: %v", err)
	}
	if len(h.contests.freezes) != 1 {
		t.Fatalf("expected the frozen flag set once, got %d", len(h.contests.freezes))
	}
	if len(h.broadcaster.frozen) != 1 {
		t.Fatalf("expected 1 frozen broadcast, got %d", len(h.broadcaster.frozen))
	}

	snapshot, err := h.snapshots.Load(context.Background(), 7)
	if err != nil {
		t.Fatalf("load snapshot failed: %v", err)
	}
	if snapshot == nil {
		t.Fatal("freeze must store the freeze-time board")
	}
	if !snapshot.Frozen {
		t.Fatal("the stored snapshot must be marked frozen")
	}
	if len(snapshot.Rows) != 1 {
		t.Fatalf("snapshot rows = %d, want the one contestant", len(snapshot.Rows))
	}
}

func TestFreezeAlreadyFrozen(t *testing.T) {
	t.Parallel()
	h := newFreezeHarness(t, true)

	err := h.svc.Freeze(context.Background(), 7)
	if !appErr.Is(err, appErr.ContestFrozen) {
		t.Fatalf("expected contest-frozen, got %v", err)
	}
	if len(h.broadcaster.frozen) != 0 {
		t.Fatal("a rejected freeze must not broadcast")
	}
}

func TestUnfreezeNotFrozen(t *testing.T) {
	t.Parallel()
	h := newFreezeHarness(t, false)

	err := h.svc.Unfreeze(context.Background(), 7)
	if !appErr.Is(err, appErr.ContestNotFrozen) {
		t.Fatalf("expected contest-not-frozen, got %v", err)
	}
}

func TestUnfreezeReleasesBatchAndDropsSnapshot(t *testing.T) {
	t.Parallel()
	h := newFreezeHarness(t, true)

	board := &ranking.Leaderboard{ContestID: 7, Frozen: true, GeneratedAt: time.Now()}
	if err := h.snapshots.Save(context.Background(), board); err != nil {
		t.Fatalf("seed snapshot failed: %v", err)
	}
	h.submissions.frozen = []*judgemodel.Submission{
		{ID: "sub-1", ContestID: 7, ProblemID: 100, MemberID: 42,
			Status: judgemodel.StatusJudged, Answer: judgemodel.AnswerAccepted, Frozen: true},
		{ID: "sub-2", ContestID: 7, ProblemID: 100, MemberID: 42,
			Status: judgemodel.StatusJudged, Answer: judgemodel.AnswerWrongAnswer, Frozen: true},
	}

	if err := h.svc.Unfreeze(context.Background(), 7); err != nil {
		t.Fatalf("unfreeze failed: %v", err)
	}
	if len(h.contests.unfreezes) != 1 {
		t.Fatalf("expected the frozen flag cleared once, got %d", len(h.contests.unfreezes))
	}
	if len(h.submissions.frozenClears) != 1 {
		t.Fatalf("expected one batch clear, got %d", len(h.submissions.frozenClears))
	}

	if len(h.broadcaster.unfrozen) != 1 {
		t.Fatalf("expected 1 unfrozen broadcast, got %d", len(h.broadcaster.unfrozen))
	}
	event := h.broadcaster.unfrozen[0]
	if event.board == nil || event.board.Frozen {
		t.Fatalf("the corrected board must not be frozen, got %+v", event.board)
	}
	if len(event.released) != 2 {
		t.Fatalf("released batch = %d, want 2", len(event.released))
	}
	for _, sub := range event.released {
		if sub.Frozen {
			t.Fatalf("released submission %s still frozen", sub.ID)
		}
	}

	snapshot, err := h.snapshots.Load(context.Background(), 7)
	if err != nil {
		t.Fatalf("load snapshot failed: %v", err)
	}
	if snapshot != nil {
		t.Fatal("the freeze snapshot must be deleted on unfreeze")
	}
}
