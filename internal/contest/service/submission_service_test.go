package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"arbiter/internal/broadcast"
	"arbiter/internal/common/db"
	"arbiter/internal/common/mq"
	"arbiter/internal/common/storage"
	contestmodel "arbiter/internal/contest/model"
	contestrepo "arbiter/internal/contest/repository"
	"arbiter/internal/contest/service"
	judgemodel "arbiter/internal/judge/model"
	judgerepo "arbiter/internal/judge/repository"
	"arbiter/internal/ranking"
	appErr "arbiter/pkg/errors"
)

var contestStart = time.Now().Add(-time.Hour)

// --- database fakes ---

type fakeTx struct {
	commitErr error
}

func (f *fakeTx) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, nil
}

func (f *fakeTx) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return nil
}

func (f *fakeTx) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return nil, nil
}

func (f *fakeTx) Commit() error { return f.commitErr }

func (f *fakeTx) Rollback() error { return nil }

type fakeDatabase struct {
	commitErr error
}

func (f *fakeDatabase) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, nil
}

func (f *fakeDatabase) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return nil
}

func (f *fakeDatabase) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return nil, nil
}

func (f *fakeDatabase) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return fn(&fakeTx{})
}

func (f *fakeDatabase) BeginTx(ctx context.Context, opts *db.TxOptions) (db.Transaction, error) {
	return &fakeTx{commitErr: f.commitErr}, nil
}

func (f *fakeDatabase) Ping(ctx context.Context) error { return nil }

func (f *fakeDatabase) Close() error { return nil }

// --- queue fake ---

type published struct {
	topic string
	msg   *mq.Message
}

type fakeQueue struct {
	mu        sync.Mutex
	published []published
}

func (f *fakeQueue) Publish(ctx context.Context, topic string, msg *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, msg: msg})
	return nil
}

func (f *fakeQueue) Subscribe(ctx context.Context, topic string, handler mq.HandlerFunc) error {
	return nil
}

func (f *fakeQueue) SubscribeWithOptions(ctx context.Context, topic string, handler mq.HandlerFunc, opts *mq.SubscribeOptions) error {
	return nil
}

func (f *fakeQueue) Start() error { return nil }

func (f *fakeQueue) Stop() error { return nil }

func (f *fakeQueue) Ping(ctx context.Context) error { return nil }

func (f *fakeQueue) Close() error { return nil }

// --- repository fakes ---

type fakeSubmissionRepo struct {
	submission *judgemodel.Submission
	frozen     []*judgemodel.Submission

	created      []*judgemodel.Submission
	reruns       []string
	frozenClears []int64
}

func (f *fakeSubmissionRepo) Create(ctx context.Context, tx db.Transaction, sub *judgemodel.Submission) error {
	f.created = append(f.created, sub)
	return nil
}

func (f *fakeSubmissionRepo) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*judgemodel.Submission, error) {
	if f.submission == nil || f.submission.ID != submissionID {
		return nil, judgerepo.ErrSubmissionNotFound
	}
	clone := *f.submission
	return &clone, nil
}

func (f *fakeSubmissionRepo) SetVerdict(ctx context.Context, tx db.Transaction, submissionID string, answer judgemodel.Answer, frozen bool) error {
	return nil
}

func (f *fakeSubmissionRepo) MarkFailed(ctx context.Context, tx db.Transaction, submissionID string) error {
	return nil
}

func (f *fakeSubmissionRepo) ResetForRerun(ctx context.Context, tx db.Transaction, submissionID string) error {
	f.reruns = append(f.reruns, submissionID)
	return nil
}

func (f *fakeSubmissionRepo) ListJudgedByContest(ctx context.Context, contestID int64) ([]*judgemodel.Submission, error) {
	return nil, nil
}

func (f *fakeSubmissionRepo) ListJudgedByMemberProblem(ctx context.Context, contestID, memberID, problemID int64) ([]*judgemodel.Submission, error) {
	return nil, nil
}

func (f *fakeSubmissionRepo) ListFrozen(ctx context.Context, contestID int64) ([]*judgemodel.Submission, error) {
	return f.frozen, nil
}

func (f *fakeSubmissionRepo) ClearFrozen(ctx context.Context, tx db.Transaction, contestID int64) error {
	f.frozenClears = append(f.frozenClears, contestID)
	return nil
}

type fakeContestRepo struct {
	contest *contestmodel.Contest

	freezes   []time.Time
	unfreezes []int64
}

func (f *fakeContestRepo) GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*contestmodel.Contest, error) {
	if f.contest == nil || f.contest.ID != contestID {
		return nil, contestrepo.ErrContestNotFound
	}
	clone := *f.contest
	return &clone, nil
}

func (f *fakeContestRepo) SetFrozen(ctx context.Context, tx db.Transaction, contestID int64, frozenAt time.Time) error {
	f.freezes = append(f.freezes, frozenAt)
	f.contest.IsFrozen = true
	f.contest.FrozenAt = &frozenAt
	return nil
}

func (f *fakeContestRepo) SetUnfrozen(ctx context.Context, tx db.Transaction, contestID int64) error {
	f.unfreezes = append(f.unfreezes, contestID)
	f.contest.IsFrozen = false
	f.contest.FrozenAt = nil
	return nil
}

func (f *fakeContestRepo) SetAutoJudge(ctx context.Context, contestID int64, enabled bool) error {
	f.contest.AutoJudge = enabled
	return nil
}

type fakeMemberRepo struct {
	members map[int64]*contestmodel.Member
}

func (f *fakeMemberRepo) GetByID(ctx context.Context, memberID int64) (*contestmodel.Member, error) {
	member, ok := f.members[memberID]
	if !ok {
		return nil, contestrepo.ErrMemberNotFound
	}
	return member, nil
}

func (f *fakeMemberRepo) ListByContest(ctx context.Context, contestID int64) ([]*contestmodel.Member, error) {
	out := make([]*contestmodel.Member, 0, len(f.members))
	for _, member := range f.members {
		if member.ContestID == contestID {
			out = append(out, member)
		}
	}
	return out, nil
}

func (f *fakeMemberRepo) ListContestants(ctx context.Context, contestID int64) ([]*contestmodel.Member, error) {
	out := make([]*contestmodel.Member, 0, len(f.members))
	for _, member := range f.members {
		if member.ContestID == contestID && member.Ranked() {
			out = append(out, member)
		}
	}
	return out, nil
}

type fakeProblemRepo struct {
	problems map[int64]*contestmodel.Problem
}

func (f *fakeProblemRepo) GetByID(ctx context.Context, problemID int64) (*contestmodel.Problem, error) {
	problem, ok := f.problems[problemID]
	if !ok {
		return nil, contestrepo.ErrProblemNotFound
	}
	return problem, nil
}

func (f *fakeProblemRepo) ListByContest(ctx context.Context, contestID int64) ([]*contestmodel.Problem, error) {
	out := make([]*contestmodel.Problem, 0, len(f.problems))
	for _, problem := range f.problems {
		if problem.ContestID == contestID {
			out = append(out, problem)
		}
	}
	return out, nil
}

// --- broadcast fake ---

type submissionEvent struct {
	typ broadcast.EventType
	sub *judgemodel.Submission
}

type unfrozenEvent struct {
	board    *ranking.Leaderboard
	released []*judgemodel.Submission
}

type fakeBroadcaster struct {
	submissions []submissionEvent
	frozen      []time.Time
	unfrozen    []unfrozenEvent
}

func (f *fakeBroadcaster) Submission(ctx context.Context, typ broadcast.EventType, sub *judgemodel.Submission) error {
	f.submissions = append(f.submissions, submissionEvent{typ: typ, sub: sub})
	return nil
}

func (f *fakeBroadcaster) SubmissionStaff(ctx context.Context, typ broadcast.EventType, sub *judgemodel.Submission) error {
	return nil
}

func (f *fakeBroadcaster) CellUpdated(ctx context.Context, contestID int64, cell broadcast.CellEvent, roles []contestmodel.Role) error {
	return nil
}

func (f *fakeBroadcaster) Frozen(ctx context.Context, contestID int64, frozenAt time.Time) error {
	f.frozen = append(f.frozen, frozenAt)
	return nil
}

func (f *fakeBroadcaster) Unfrozen(ctx context.Context, board *ranking.Leaderboard, released []*judgemodel.Submission) error {
	f.unfrozen = append(f.unfrozen, unfrozenEvent{board: board, released: released})
	return nil
}

// --- object storage fake ---

type fakeObjectReader struct {
	*bytes.Reader
}

func (f *fakeObjectReader) Close() error { return nil }

type fakeObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{objects: make(map[string][]byte)}
}

func (f *fakeObjectStorage) GetObject(ctx context.Context, bucket, objectKey string) (storage.ObjectReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return &fakeObjectReader{Reader: bytes.NewReader(data)}, nil
}

func (f *fakeObjectStorage) PutObject(ctx context.Context, bucket, objectKey string, reader storage.ObjectReader, sizeBytes int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+objectKey] = data
	return nil
}

func (f *fakeObjectStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	return storage.ObjectStat{}, nil
}

func (f *fakeObjectStorage) ListObjects(ctx context.Context, bucket, prefix string) <-chan storage.ObjectInfo {
	ch := make(chan storage.ObjectInfo)
	close(ch)
	return ch
}

func (f *fakeObjectStorage) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	return nil
}

// --- harness ---

type intake struct {
	svc         *service.SubmissionService
	database    *fakeDatabase
	queue       *fakeQueue
	submissions *fakeSubmissionRepo
	contests    *fakeContestRepo
	broadcaster *fakeBroadcaster
	store       *fakeObjectStorage
}

func newIntake(t *testing.T) *intake {
	t.Helper()

	i := &intake{
		database: &fakeDatabase{},
		queue:    &fakeQueue{},
		contests: &fakeContestRepo{contest: &contestmodel.Contest{
			ID:        7,
			StartAt:   contestStart,
			EndAt:     contestStart.Add(5 * time.Hour),
			AutoJudge: true,
		}},
		submissions: &fakeSubmissionRepo{},
		broadcaster: &fakeBroadcaster{},
		store:       newFakeObjectStorage(),
	}
	members := &fakeMemberRepo{members: map[int64]*contestmodel.Member{
		42: {ID: 42, ContestID: 7, Name: "alice", Role: contestmodel.RoleContestant},
		43: {ID: 43, ContestID: 8, Name: "drifter", Role: contestmodel.RoleContestant},
	}}
	problems := &fakeProblemRepo{problems: map[int64]*contestmodel.Problem{
		100: {ID: 100, ContestID: 7, Letter: "A", TimeLimitMS: 1000, MemoryLimitMB: 256, FixtureKey: "packs/100"},
		200: {ID: 200, ContestID: 8, Letter: "A"},
	}}

	dispatcher, err := service.NewDispatcher(i.queue, "", "")
	if err != nil {
		t.Fatalf("new dispatcher failed: %v", err)
	}
	svc, err := service.NewSubmissionService(
		i.database, i.submissions, i.contests, members, problems,
		dispatcher, i.broadcaster, i.store, "sources")
	if err != nil {
		t.Fatalf("new submission service failed: %v", err)
	}
	i.svc = svc
	return i
}

func validInput() service.CreateSubmissionInput {
	return service.CreateSubmissionInput{
		ContestID:  7,
		ProblemID:  100,
		MemberID:   42,
		LanguageID: "python",
		SourceCode: "print(42)",
	}
}

// --- tests ---

func TestCreateStoresDispatchesAndAnnounces(t *testing.T) {
	t.Parallel()
	i := newIntake(t)

	sub, err := i.svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if sub.Status != judgemodel.StatusJudging || sub.Answer != judgemodel.AnswerNoAnswer {
		t.Fatalf("fresh submission must start judging without a verdict, got %+v", sub)
	}
	wantKey := "sources/7/" + sub.ID
	if sub.SourceKey != wantKey {
		t.Fatalf("source key = %q, want %q", sub.SourceKey, wantKey)
	}
	if got := i.store.objects["sources/"+wantKey]; string(got) != "print(42)" {
		t.Fatalf("stored source = %q", got)
	}
	if len(i.submissions.created) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(i.submissions.created))
	}

	if len(i.queue.published) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(i.queue.published))
	}
	dispatched := i.queue.published[0]
	if dispatched.topic != service.TopicJudge {
		t.Fatalf("fresh submissions go to %q, got %q", service.TopicJudge, dispatched.topic)
	}
	if dispatched.msg.ID != sub.ID {
		t.Fatalf("task message id = %q, want the submission id", dispatched.msg.ID)
	}

	if len(i.broadcaster.submissions) != 1 {
		t.Fatalf("expected 1 created event, got %d", len(i.broadcaster.submissions))
	}
	if i.broadcaster.submissions[0].typ != broadcast.EventSubmissionCreated {
		t.Fatalf("event type = %v", i.broadcaster.submissions[0].typ)
	}
}

func TestCreateRejectedOutsideContestWindow(t *testing.T) {
	t.Parallel()

	t.Run("before start", func(t *testing.T) {
		t.Parallel()
		i := newIntake(t)
		i.contests.contest.StartAt = time.Now().Add(time.Hour)
		i.contests.contest.EndAt = time.Now().Add(6 * time.Hour)

		_, err := i.svc.Create(context.Background(), validInput())
		if !appErr.Is(err, appErr.ContestNotStarted) {
			t.Fatalf("expected contest-not-started, got %v", err)
		}
	})
	t.Run("after end", func(t *testing.T) {
		t.Parallel()
		i := newIntake(t)
		i.contests.contest.EndAt = time.Now().Add(-time.Minute)

		_, err := i.svc.Create(context.Background(), validInput())
		if !appErr.Is(err, appErr.ContestEnded) {
			t.Fatalf("expected contest-ended, got %v", err)
		}
	})
}

func TestCreateRejectsCrossContestReferences(t *testing.T) {
	t.Parallel()

	t.Run("member of another contest", func(t *testing.T) {
		t.Parallel()
		i := newIntake(t)
		input := validInput()
		input.MemberID = 43

		_, err := i.svc.Create(context.Background(), input)
		if !appErr.Is(err, appErr.MemberNotFound) {
			t.Fatalf("expected member-not-found, got %v", err)
		}
	})
	t.Run("problem of another contest", func(t *testing.T) {
		t.Parallel()
		i := newIntake(t)
		input := validInput()
		input.ProblemID = 200

		_, err := i.svc.Create(context.Background(), input)
		if !appErr.Is(err, appErr.ProblemNotFound) {
			t.Fatalf("expected problem-not-found, got %v", err)
		}
	})
}

func TestCreateRejectsOversizedSource(t *testing.T) {
	t.Parallel()
	i := newIntake(t)
	input := validInput()
	input.SourceCode = strings.Repeat("x", service.MaxSourceBytes+1)

	_, err := i.svc.Create(context.Background(), input)
	if !appErr.Is(err, appErr.ObjectTooLarge) {
		t.Fatalf("expected object-too-large, got %v", err)
	}
	if len(i.submissions.created) != 0 {
		t.Fatal("an oversized source must not reach the database")
	}
}

func TestCreateAutoJudgeOffSkipsDispatch(t *testing.T) {
	t.Parallel()
	i := newIntake(t)
	i.contests.contest.AutoJudge = false

	sub, err := i.svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if sub.Status != judgemodel.StatusJudging {
		t.Fatalf("submission must stay pending, got %v", sub.Status)
	}
	if len(i.queue.published) != 0 {
		t.Fatal("auto-judge off must suppress dispatch")
	}
	if len(i.broadcaster.submissions) != 1 {
		t.Fatal("the created event still goes out with auto-judge off")
	}
}

func TestCreateCommitFailureSuppressesSideEffects(t *testing.T) {
	t.Parallel()
	i := newIntake(t)
	i.database.commitErr = errors.New("deadlock")

	_, err := i.svc.Create(context.Background(), validInput())
	if err == nil {
		t.Fatal("commit failures must surface")
	}
	if len(i.queue.published) != 0 {
		t.Fatal("nothing may be dispatched for an uncommitted submission")
	}
	if len(i.broadcaster.submissions) != 0 {
		t.Fatal("no event may announce an uncommitted submission")
	}
}

func TestRerunUsesRejudgeLane(t *testing.T) {
	t.Parallel()
	i := newIntake(t)
	i.submissions.submission = &judgemodel.Submission{
		ID:         "sub-1",
		ContestID:  7,
		ProblemID:  100,
		MemberID:   42,
		LanguageID: "python",
		SourceKey:  "sources/7/sub-1",
		Status:     judgemodel.StatusJudged,
		Answer:     judgemodel.AnswerWrongAnswer,
	}

	if err := i.svc.Rerun(context.Background(), "sub-1"); err != nil {
		t.Fatalf("rerun failed: %v", err)
	}
	if len(i.submissions.reruns) != 1 || i.submissions.reruns[0] != "sub-1" {
		t.Fatalf("expected the submission reset, got %v", i.submissions.reruns)
	}
	if len(i.queue.published) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(i.queue.published))
	}
	if got := i.queue.published[0].topic; got != service.TopicRejudge {
		t.Fatalf("reruns go to %q, got %q", service.TopicRejudge, got)
	}

	if len(i.broadcaster.submissions) != 1 {
		t.Fatalf("expected 1 updated event, got %d", len(i.broadcaster.submissions))
	}
	event := i.broadcaster.submissions[0]
	if event.typ != broadcast.EventSubmissionUpdated {
		t.Fatalf("event type = %v", event.typ)
	}
	if event.sub.Status != judgemodel.StatusJudging || event.sub.Answer != judgemodel.AnswerNoAnswer {
		t.Fatalf("the announced reset must clear the verdict, got %+v", event.sub)
	}
}

func TestRerunIgnoresAutoJudgeGate(t *testing.T) {
	t.Parallel()
	i := newIntake(t)
	i.contests.contest.AutoJudge = false
	i.contests.contest.EndAt = time.Now().Add(-time.Minute)
	i.submissions.submission = &judgemodel.Submission{
		ID:        "sub-1",
		ContestID: 7,
		ProblemID: 100,
		MemberID:  42,
		Status:    judgemodel.StatusJudged,
	}

	if err := i.svc.Rerun(context.Background(), "sub-1"); err != nil {
		t.Fatalf("rerun must work on ended contests with auto-judge off, got %v", err)
	}
	if len(i.queue.published) != 1 {
		t.Fatal("reruns bypass the auto-judge gate")
	}
}

func TestRerunRejectedWhileJudging(t *testing.T) {
	t.Parallel()
	i := newIntake(t)
	i.submissions.submission = &judgemodel.Submission{
		ID:         "sub-1",
		ContestID:  7,
		ProblemID:  100,
		MemberID:   42,
		LanguageID: "python",
		Status:     judgemodel.StatusJudging,
		Answer:     judgemodel.AnswerNoAnswer,
	}

	err := i.svc.Rerun(context.Background(), "sub-1")
	if !appErr.Is(err, appErr.SubmissionNotJudgeable) {
		t.Fatalf("expected not-judgeable, got %v", err)
	}
	if len(i.submissions.reruns) != 0 {
		t.Fatalf("an in-flight submission must not be reset, got %v", i.submissions.reruns)
	}
	if len(i.queue.published) != 0 {
		t.Fatalf("expected no dispatch, got %d", len(i.queue.published))
	}
	if len(i.broadcaster.submissions) != 0 {
		t.Fatalf("expected no events, got %d", len(i.broadcaster.submissions))
	}
}

func TestRerunUnknownSubmission(t *testing.T) {
	t.Parallel()
	i := newIntake(t)

	err := i.svc.Rerun(context.Background(), "ghost")
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected submission-not-found, got %v", err)
	}
}
