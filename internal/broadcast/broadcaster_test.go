package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"arbiter/internal/broadcast"
	"arbiter/internal/common/mq"
	contestmodel "arbiter/internal/contest/model"
	judgemodel "arbiter/internal/judge/model"
	"arbiter/internal/ranking"
)

type publishedMessage struct {
	topic string
	msg   *mq.Message
}

type fakeQueue struct {
	published []publishedMessage
	failTopic string
}

func (f *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if f.failTopic != "" && topic == f.failTopic {
		return errors.New("broker unavailable")
	}
	f.published = append(f.published, publishedMessage{topic: topic, msg: message})
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

func (f *fakeQueue) topics() []string {
	out := make([]string, 0, len(f.published))
	for _, p := range f.published {
		out = append(out, p.topic)
	}
	sort.Strings(out)
	return out
}

func sample() *judgemodel.Submission {
	return &judgemodel.Submission{
		ID:         "sub-1",
		ContestID:  7,
		ProblemID:  100,
		MemberID:   42,
		LanguageID: "cpp",
		Status:     judgemodel.StatusJudged,
		Answer:     judgemodel.AnswerAccepted,
		CreatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTopicNames(t *testing.T) {
	t.Parallel()
	if got := broadcast.ContestDashboard(7, contestmodel.RoleAdmin); got != "contest.7.dashboard.admin" {
		t.Fatalf("unexpected dashboard topic %q", got)
	}
	if got := broadcast.MemberSubmissions(7, 42); got != "contest.7.member.42.submissions" {
		t.Fatalf("unexpected member topic %q", got)
	}
}

func TestSubmissionFansOutToMemberAndStaff(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{}
	b := broadcast.NewMQBroadcaster(queue)

	if err := b.Submission(context.Background(), broadcast.EventSubmissionUpdated, sample()); err != nil {
		t.Fatalf("submission broadcast failed: %v", err)
	}

	want := []string{
		"contest.7.dashboard.admin",
		"contest.7.dashboard.judge",
		"contest.7.dashboard.staff",
		"contest.7.member.42.submissions",
	}
	if got := queue.topics(); !equalStrings(got, want) {
		t.Fatalf("expected topics %v, got %v", want, got)
	}

	env, err := broadcast.DecodeEnvelope(queue.published[0].msg.Body)
	if err != nil {
		t.Fatalf("decode envelope failed: %v", err)
	}
	if env.Type != broadcast.EventSubmissionUpdated || env.ContestID != 7 {
		t.Fatalf("unexpected envelope %+v", env)
	}
	var event broadcast.SubmissionEvent
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	if event.SubmissionID != "sub-1" || event.Answer != string(judgemodel.AnswerAccepted) {
		t.Fatalf("unexpected event %+v", event)
	}
	if queue.published[0].msg.ID != "sub-1" {
		t.Fatalf("message id must carry the submission id, got %q", queue.published[0].msg.ID)
	}
}

func TestSubmissionStaffExcludesMemberStream(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{}
	b := broadcast.NewMQBroadcaster(queue)

	if err := b.SubmissionStaff(context.Background(), broadcast.EventSubmissionUpdated, sample()); err != nil {
		t.Fatalf("staff broadcast failed: %v", err)
	}
	for _, p := range queue.published {
		if p.topic == broadcast.MemberSubmissions(7, 42) {
			t.Fatal("staff-only broadcasts must not reach the member stream")
		}
	}
	if len(queue.published) != 3 {
		t.Fatalf("expected 3 staff dashboards, got %d", len(queue.published))
	}
}

func TestCellUpdatedRespectsRoleList(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{}
	b := broadcast.NewMQBroadcaster(queue)

	cell := broadcast.CellEvent{MemberID: 42, Cell: ranking.Cell{ProblemID: 100, Accepted: true}}
	if err := b.CellUpdated(context.Background(), 7, cell, broadcast.StaffRoles()); err != nil {
		t.Fatalf("cell broadcast failed: %v", err)
	}
	want := []string{
		"contest.7.dashboard.admin",
		"contest.7.dashboard.judge",
		"contest.7.dashboard.staff",
	}
	if got := queue.topics(); !equalStrings(got, want) {
		t.Fatalf("expected topics %v, got %v", want, got)
	}
}

func TestFrozenReachesEveryRole(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{}
	b := broadcast.NewMQBroadcaster(queue)

	if err := b.Frozen(context.Background(), 7, time.Now()); err != nil {
		t.Fatalf("frozen broadcast failed: %v", err)
	}
	if len(queue.published) != len(contestmodel.Roles()) {
		t.Fatalf("expected %d dashboards, got %d", len(contestmodel.Roles()), len(queue.published))
	}
}

func TestUnfrozenCarriesBoardAndReleasedBatch(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{}
	b := broadcast.NewMQBroadcaster(queue)

	board := &ranking.Leaderboard{ContestID: 7, Rows: []ranking.Row{{MemberID: 42, Score: 1}}}
	released := []*judgemodel.Submission{sample()}
	if err := b.Unfrozen(context.Background(), board, released); err != nil {
		t.Fatalf("unfrozen broadcast failed: %v", err)
	}

	env, err := broadcast.DecodeEnvelope(queue.published[0].msg.Body)
	if err != nil {
		t.Fatalf("decode envelope failed: %v", err)
	}
	if env.Type != broadcast.EventLeaderboardUnfrozen {
		t.Fatalf("unexpected event type %s", env.Type)
	}
	var event broadcast.UnfrozenEvent
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	if event.Leaderboard == nil || len(event.Leaderboard.Rows) != 1 {
		t.Fatalf("missing leaderboard in unfreeze batch: %+v", event)
	}
	if len(event.Released) != 1 || event.Released[0].SubmissionID != "sub-1" {
		t.Fatalf("missing released submissions: %+v", event.Released)
	}
}

func TestPublishAttemptsAllTopicsOnFailure(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{failTopic: broadcast.MemberSubmissions(7, 42)}
	b := broadcast.NewMQBroadcaster(queue)

	err := b.Submission(context.Background(), broadcast.EventSubmissionUpdated, sample())
	if err == nil {
		t.Fatal("expected the first publish error to surface")
	}
	// The staff dashboards were still attempted.
	if len(queue.published) != 3 {
		t.Fatalf("expected 3 successful publishes, got %d", len(queue.published))
	}
}
