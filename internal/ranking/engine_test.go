package ranking_test

import (
	"context"
	"testing"
	"time"

	"arbiter/internal/common/db"
	contestmodel "arbiter/internal/contest/model"
	judgemodel "arbiter/internal/judge/model"
	"arbiter/internal/ranking"
)

var contestStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeContestRepo struct {
	contest *contestmodel.Contest
}

func (f *fakeContestRepo) GetByID(ctx context.Context, tx db.Transaction, contestID int64) (*contestmodel.Contest, error) {
	return f.contest, nil
}

func (f *fakeContestRepo) SetFrozen(ctx context.Context, tx db.Transaction, contestID int64, frozenAt time.Time) error {
	return nil
}

func (f *fakeContestRepo) SetUnfrozen(ctx context.Context, tx db.Transaction, contestID int64) error {
	return nil
}

func (f *fakeContestRepo) SetAutoJudge(ctx context.Context, contestID int64, enabled bool) error {
	return nil
}

type fakeMemberRepo struct {
	members []*contestmodel.Member
}

func (f *fakeMemberRepo) GetByID(ctx context.Context, memberID int64) (*contestmodel.Member, error) {
	for _, m := range f.members {
		if m.ID == memberID {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMemberRepo) ListByContest(ctx context.Context, contestID int64) ([]*contestmodel.Member, error) {
	return f.members, nil
}

func (f *fakeMemberRepo) ListContestants(ctx context.Context, contestID int64) ([]*contestmodel.Member, error) {
	out := make([]*contestmodel.Member, 0, len(f.members))
	for _, m := range f.members {
		if m.Ranked() {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeProblemRepo struct {
	problems []*contestmodel.Problem
}

func (f *fakeProblemRepo) GetByID(ctx context.Context, problemID int64) (*contestmodel.Problem, error) {
	for _, p := range f.problems {
		if p.ID == problemID {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeProblemRepo) ListByContest(ctx context.Context, contestID int64) ([]*contestmodel.Problem, error) {
	return f.problems, nil
}

type fakeSubmissionRepo struct {
	judged []*judgemodel.Submission
}

func (f *fakeSubmissionRepo) Create(ctx context.Context, tx db.Transaction, sub *judgemodel.Submission) error {
	return nil
}

func (f *fakeSubmissionRepo) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*judgemodel.Submission, error) {
	return nil, nil
}

func (f *fakeSubmissionRepo) SetVerdict(ctx context.Context, tx db.Transaction, submissionID string, answer judgemodel.Answer, frozen bool) error {
	return nil
}

func (f *fakeSubmissionRepo) MarkFailed(ctx context.Context, tx db.Transaction, submissionID string) error {
	return nil
}

func (f *fakeSubmissionRepo) ResetForRerun(ctx context.Context, tx db.Transaction, submissionID string) error {
	return nil
}

func (f *fakeSubmissionRepo) ListJudgedByContest(ctx context.Context, contestID int64) ([]*judgemodel.Submission, error) {
	return f.judged, nil
}

func (f *fakeSubmissionRepo) ListJudgedByMemberProblem(ctx context.Context, contestID, memberID, problemID int64) ([]*judgemodel.Submission, error) {
	var out []*judgemodel.Submission
	for _, s := range f.judged {
		if s.MemberID == memberID && s.ProblemID == problemID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) ListFrozen(ctx context.Context, contestID int64) ([]*judgemodel.Submission, error) {
	return nil, nil
}

func (f *fakeSubmissionRepo) ClearFrozen(ctx context.Context, tx db.Transaction, contestID int64) error {
	return nil
}

func judged(id string, memberID, problemID int64, answer judgemodel.Answer, minutes int) *judgemodel.Submission {
	return &judgemodel.Submission{
		ID:        id,
		ContestID: 1,
		ProblemID: problemID,
		MemberID:  memberID,
		Status:    judgemodel.StatusJudged,
		Answer:    answer,
		CreatedAt: contestStart.Add(time.Duration(minutes) * time.Minute),
	}
}

func newTestEngine(t *testing.T, members []*contestmodel.Member, problems []*contestmodel.Problem, subs []*judgemodel.Submission, frozen bool) *ranking.Engine {
	t.Helper()
	contest := &contestmodel.Contest{
		ID:       1,
		StartAt:  contestStart,
		EndAt:    contestStart.Add(5 * time.Hour),
		IsFrozen: frozen,
	}
	engine, err := ranking.NewEngine(
		&fakeContestRepo{contest: contest},
		&fakeMemberRepo{members: members},
		&fakeProblemRepo{problems: problems},
		&fakeSubmissionRepo{judged: subs},
		nil,
	)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	return engine
}

func TestBuildPenaltyAppliedOnlyWhenSolved(t *testing.T) {
	t.Parallel()
	members := []*contestmodel.Member{
		{ID: 10, ContestID: 1, Name: "alice", Role: contestmodel.RoleContestant},
	}
	problems := []*contestmodel.Problem{
		{ID: 100, ContestID: 1, Letter: "A"},
		{ID: 200, ContestID: 1, Letter: "B"},
	}
	subs := []*judgemodel.Submission{
		judged("s1", 10, 100, judgemodel.AnswerWrongAnswer, 10),
		judged("s2", 10, 100, judgemodel.AnswerWrongAnswer, 20),
		judged("s3", 10, 100, judgemodel.AnswerAccepted, 30),
		judged("s4", 10, 200, judgemodel.AnswerWrongAnswer, 40),
		judged("s5", 10, 200, judgemodel.AnswerTimeLimitExceeded, 50),
	}

	board, err := newTestEngine(t, members, problems, subs, false).Build(context.Background(), 1)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(board.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(board.Rows))
	}
	row := board.Rows[0]
	if row.Score != 1 {
		t.Fatalf("expected score 1, got %d", row.Score)
	}

	solved := row.Cells[0]
	if !solved.Accepted || solved.WrongSubmissions != 2 {
		t.Fatalf("unexpected solved cell: %+v", solved)
	}
	// 30 minutes elapsed plus two wrong attempts at 1200s each.
	want := int64(30*60 + 2*ranking.WrongAttemptPenaltySeconds)
	if solved.PenaltySeconds != want {
		t.Fatalf("expected penalty %d, got %d", want, solved.PenaltySeconds)
	}
	if row.PenaltySeconds != want {
		t.Fatalf("expected row penalty %d, got %d", want, row.PenaltySeconds)
	}

	unsolved := row.Cells[1]
	if unsolved.Accepted {
		t.Fatalf("problem B should be unsolved")
	}
	if unsolved.WrongSubmissions != 2 {
		t.Fatalf("expected 2 wrong attempts on B, got %d", unsolved.WrongSubmissions)
	}
	if unsolved.PenaltySeconds != 0 {
		t.Fatalf("unsolved problem must carry zero penalty, got %d", unsolved.PenaltySeconds)
	}
}

func TestBuildAttemptsAfterFirstAcceptIgnored(t *testing.T) {
	t.Parallel()
	members := []*contestmodel.Member{
		{ID: 10, ContestID: 1, Name: "alice", Role: contestmodel.RoleContestant},
	}
	problems := []*contestmodel.Problem{
		{ID: 100, ContestID: 1, Letter: "A"},
	}
	subs := []*judgemodel.Submission{
		judged("s1", 10, 100, judgemodel.AnswerAccepted, 15),
		judged("s2", 10, 100, judgemodel.AnswerWrongAnswer, 25),
		judged("s3", 10, 100, judgemodel.AnswerAccepted, 35),
	}

	board, err := newTestEngine(t, members, problems, subs, false).Build(context.Background(), 1)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	cell := board.Rows[0].Cells[0]
	if cell.WrongSubmissions != 0 {
		t.Fatalf("attempts after the first accept must not count, got %d wrong", cell.WrongSubmissions)
	}
	if cell.PenaltySeconds != 15*60 {
		t.Fatalf("expected penalty %d, got %d", 15*60, cell.PenaltySeconds)
	}
	if !cell.AcceptedAt.Equal(contestStart.Add(15 * time.Minute)) {
		t.Fatalf("acceptance must pin to the first accepted attempt")
	}
}

func TestBuildExcludesNonContestants(t *testing.T) {
	t.Parallel()
	members := []*contestmodel.Member{
		{ID: 10, ContestID: 1, Name: "alice", Role: contestmodel.RoleContestant},
		{ID: 20, ContestID: 1, Name: "judge", Role: contestmodel.RoleJudge},
	}
	problems := []*contestmodel.Problem{{ID: 100, ContestID: 1, Letter: "A"}}

	board, err := newTestEngine(t, members, problems, nil, false).Build(context.Background(), 1)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(board.Rows) != 1 || board.Rows[0].MemberID != 10 {
		t.Fatalf("only contestants are ranked, got %+v", board.Rows)
	}
}

func TestBuildOrdering(t *testing.T) {
	t.Parallel()
	members := []*contestmodel.Member{
		{ID: 1, ContestID: 1, Name: "carol", Role: contestmodel.RoleContestant},
		{ID: 2, ContestID: 1, Name: "alice", Role: contestmodel.RoleContestant},
		{ID: 3, ContestID: 1, Name: "bob", Role: contestmodel.RoleContestant},
		{ID: 4, ContestID: 1, Name: "dave", Role: contestmodel.RoleContestant},
	}
	problems := []*contestmodel.Problem{
		{ID: 100, ContestID: 1, Letter: "A"},
		{ID: 200, ContestID: 1, Letter: "B"},
	}
	subs := []*judgemodel.Submission{
		// carol: 2 solves, penalty 30m + 60m.
		judged("c1", 1, 100, judgemodel.AnswerAccepted, 30),
		judged("c2", 1, 200, judgemodel.AnswerAccepted, 60),
		// alice: 1 solve at 20m.
		judged("a1", 2, 100, judgemodel.AnswerAccepted, 20),
		// bob: 1 solve at 20m as well; ties with alice on score and
		// penalty, broken by name.
		judged("b1", 3, 200, judgemodel.AnswerAccepted, 20),
		// dave: nothing solved.
		judged("d1", 4, 100, judgemodel.AnswerWrongAnswer, 10),
	}

	board, err := newTestEngine(t, members, problems, subs, false).Build(context.Background(), 1)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	got := make([]int64, 0, len(board.Rows))
	for _, row := range board.Rows {
		got = append(got, row.MemberID)
	}
	want := []int64{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestBuildTieBreakByMostRecentSolve(t *testing.T) {
	t.Parallel()
	members := []*contestmodel.Member{
		{ID: 1, ContestID: 1, Name: "same", Role: contestmodel.RoleContestant},
		{ID: 2, ContestID: 1, Name: "same", Role: contestmodel.RoleContestant},
	}
	problems := []*contestmodel.Problem{
		{ID: 100, ContestID: 1, Letter: "A"},
		{ID: 200, ContestID: 1, Letter: "B"},
	}
	// Both score 2 with total penalty 90 minutes. Member 2's most
	// recent solve landed earlier, so member 2 ranks first.
	subs := []*judgemodel.Submission{
		judged("m1a", 1, 100, judgemodel.AnswerAccepted, 20),
		judged("m1b", 1, 200, judgemodel.AnswerAccepted, 70),
		judged("m2a", 2, 100, judgemodel.AnswerAccepted, 30),
		judged("m2b", 2, 200, judgemodel.AnswerAccepted, 60),
	}

	board, err := newTestEngine(t, members, problems, subs, false).Build(context.Background(), 1)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if board.Rows[0].MemberID != 2 || board.Rows[1].MemberID != 1 {
		t.Fatalf("expected member 2 first, got %d then %d", board.Rows[0].MemberID, board.Rows[1].MemberID)
	}
}

func TestBuildDeterministic(t *testing.T) {
	t.Parallel()
	members := []*contestmodel.Member{
		{ID: 1, ContestID: 1, Name: "alice", Role: contestmodel.RoleContestant},
		{ID: 2, ContestID: 1, Name: "bob", Role: contestmodel.RoleContestant},
	}
	problems := []*contestmodel.Problem{{ID: 100, ContestID: 1, Letter: "A"}}
	subs := []*judgemodel.Submission{
		judged("s1", 1, 100, judgemodel.AnswerAccepted, 10),
		judged("s2", 2, 100, judgemodel.AnswerAccepted, 20),
	}
	engine := newTestEngine(t, members, problems, subs, false)

	first, err := engine.Build(context.Background(), 1)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := engine.Build(context.Background(), 1)
		if err != nil {
			t.Fatalf("rebuild failed: %v", err)
		}
		if len(again.Rows) != len(first.Rows) {
			t.Fatalf("row count changed between builds")
		}
		for j := range again.Rows {
			if again.Rows[j].MemberID != first.Rows[j].MemberID ||
				again.Rows[j].Score != first.Rows[j].Score ||
				again.Rows[j].PenaltySeconds != first.Rows[j].PenaltySeconds {
				t.Fatalf("build %d diverged at row %d", i, j)
			}
		}
	}
}

func TestUpdateCellRecomputesSingleCell(t *testing.T) {
	t.Parallel()
	members := []*contestmodel.Member{
		{ID: 10, ContestID: 1, Name: "alice", Role: contestmodel.RoleContestant},
	}
	problems := []*contestmodel.Problem{{ID: 100, ContestID: 1, Letter: "A"}}
	subs := []*judgemodel.Submission{
		judged("s1", 10, 100, judgemodel.AnswerWrongAnswer, 5),
		judged("s2", 10, 100, judgemodel.AnswerAccepted, 25),
	}
	engine := newTestEngine(t, members, problems, subs, false)

	cell, err := engine.UpdateCell(context.Background(), subs[1])
	if err != nil {
		t.Fatalf("update cell failed: %v", err)
	}
	if !cell.Accepted || cell.WrongSubmissions != 1 {
		t.Fatalf("unexpected cell: %+v", cell)
	}
	want := int64(25*60 + ranking.WrongAttemptPenaltySeconds)
	if cell.PenaltySeconds != want {
		t.Fatalf("expected penalty %d, got %d", want, cell.PenaltySeconds)
	}
}
