package ranking

import (
	"context"
	"fmt"
	"sort"
	"time"

	contestmodel "arbiter/internal/contest/model"
	contestrepo "arbiter/internal/contest/repository"
	judgemodel "arbiter/internal/judge/model"
	judgerepo "arbiter/internal/judge/repository"
	apperrors "arbiter/pkg/errors"
)

// Engine computes leaderboards from judged submissions.
// Build does a full recompute; UpdateCell recomputes a single member's
// problem cell for the incremental broadcast path.
type Engine struct {
	contests    contestrepo.ContestRepository
	members     contestrepo.MemberRepository
	problems    contestrepo.ProblemRepository
	submissions judgerepo.SubmissionRepository
	snapshots   *SnapshotStore
}

// NewEngine creates a ranking engine. snapshots may be nil when freeze
// support is not needed (tests, offline tooling).
func NewEngine(
	contests contestrepo.ContestRepository,
	members contestrepo.MemberRepository,
	problems contestrepo.ProblemRepository,
	submissions judgerepo.SubmissionRepository,
	snapshots *SnapshotStore,
) (*Engine, error) {
	if contests == nil || members == nil || problems == nil || submissions == nil {
		return nil, fmt.Errorf("contests, members, problems and submissions are required")
	}
	return &Engine{
		contests:    contests,
		members:     members,
		problems:    problems,
		submissions: submissions,
		snapshots:   snapshots,
	}, nil
}

// Build computes the full leaderboard for a contest.
// For a frozen contest the freeze-time snapshot is returned unchanged, so
// results judged during the freeze window stay invisible until unfreeze.
func (e *Engine) Build(ctx context.Context, contestID int64) (*Leaderboard, error) {
	contest, err := e.contests.GetByID(ctx, nil, contestID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ContestNotFound)
	}

	if contest.IsFrozen && e.snapshots != nil {
		snapshot, err := e.snapshots.Load(ctx, contestID)
		if err != nil {
			return nil, err
		}
		if snapshot != nil {
			return snapshot, nil
		}
		// No snapshot yet: fall through and compute. The freeze
		// transition stores the first snapshot.
	}

	board, err := e.Rebuild(ctx, contest)
	if err != nil {
		return nil, err
	}
	board.Frozen = contest.IsFrozen
	return board, nil
}

// Rebuild always recomputes from the submission set, ignoring snapshots.
// Freeze/unfreeze transitions and reconciliation use this directly.
func (e *Engine) Rebuild(ctx context.Context, contest *contestmodel.Contest) (*Leaderboard, error) {
	members, err := e.members.ListContestants(ctx, contest.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.LeaderboardBuildFailed)
	}
	problems, err := e.problems.ListByContest(ctx, contest.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.LeaderboardBuildFailed)
	}
	submissions, err := e.submissions.ListJudgedByContest(ctx, contest.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.LeaderboardBuildFailed)
	}

	// Group judged submissions per member per problem, preserving the
	// creation order the repository guarantees.
	grouped := make(map[int64]map[int64][]*judgemodel.Submission)
	for _, submission := range submissions {
		byProblem, ok := grouped[submission.MemberID]
		if !ok {
			byProblem = make(map[int64][]*judgemodel.Submission)
			grouped[submission.MemberID] = byProblem
		}
		byProblem[submission.ProblemID] = append(byProblem[submission.ProblemID], submission)
	}

	rows := make([]Row, 0, len(members))
	for _, member := range members {
		rows = append(rows, buildRow(member, problems, grouped[member.ID], contest.StartAt))
	}
	SortRows(rows)

	return &Leaderboard{
		ContestID:   contest.ID,
		Rows:        rows,
		GeneratedAt: time.Now(),
	}, nil
}

// UpdateCell recomputes the single cell affected by one judged submission.
func (e *Engine) UpdateCell(ctx context.Context, submission *judgemodel.Submission) (*Cell, error) {
	if submission == nil {
		return nil, fmt.Errorf("submission is nil")
	}
	contest, err := e.contests.GetByID(ctx, nil, submission.ContestID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ContestNotFound)
	}
	problem, err := e.problems.GetByID(ctx, submission.ProblemID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ProblemNotFound)
	}
	attempts, err := e.submissions.ListJudgedByMemberProblem(ctx, submission.ContestID, submission.MemberID, submission.ProblemID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.LeaderboardBuildFailed)
	}

	cell := computeCell(problem, attempts, contest.StartAt)
	return &cell, nil
}

func buildRow(member *contestmodel.Member, problems []*contestmodel.Problem, byProblem map[int64][]*judgemodel.Submission, contestStart time.Time) Row {
	row := Row{
		MemberID:   member.ID,
		MemberName: member.Name,
		Cells:      make([]Cell, 0, len(problems)),
	}
	for _, problem := range problems {
		cell := computeCell(problem, byProblem[problem.ID], contestStart)
		row.Cells = append(row.Cells, cell)
		if cell.Accepted {
			row.Score++
			row.PenaltySeconds += cell.PenaltySeconds
			row.acceptedDesc = append(row.acceptedDesc, *cell.AcceptedAt)
		}
	}
	sort.Slice(row.acceptedDesc, func(i, j int) bool {
		return row.acceptedDesc[i].After(row.acceptedDesc[j])
	})
	return row
}

// computeCell walks one member's judged attempts for one problem in
// creation order. The first accepted attempt fixes acceptance; attempts
// before it count as wrong. Unsolved problems carry zero penalty no
// matter how many wrong attempts they accumulated.
func computeCell(problem *contestmodel.Problem, attempts []*judgemodel.Submission, contestStart time.Time) Cell {
	cell := Cell{
		ProblemID:     problem.ID,
		ProblemLetter: problem.Letter,
	}
	for _, attempt := range attempts {
		if attempt.Answer == judgemodel.AnswerAccepted {
			acceptedAt := attempt.CreatedAt
			cell.Accepted = true
			cell.AcceptedAt = &acceptedAt
			break
		}
		cell.WrongSubmissions++
	}
	if cell.Accepted {
		elapsed := int64(cell.AcceptedAt.Sub(contestStart) / time.Second)
		cell.PenaltySeconds = elapsed + int64(cell.WrongSubmissions)*WrongAttemptPenaltySeconds
	}
	return cell
}

// SortRows orders rows by descending desirability: score descending,
// penalty ascending, then accepted timestamps most-recent-first compared
// positionally (whoever's most recent solve happened earlier wins), then
// member name, then member id as the absolute fallback.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return lessRow(rows[i], rows[j])
	})
}

func lessRow(a, b Row) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.PenaltySeconds != b.PenaltySeconds {
		return a.PenaltySeconds < b.PenaltySeconds
	}
	for idx := 0; idx < len(a.acceptedDesc) && idx < len(b.acceptedDesc); idx++ {
		at, bt := a.acceptedDesc[idx], b.acceptedDesc[idx]
		if !at.Equal(bt) {
			return at.Before(bt)
		}
	}
	if a.MemberName != b.MemberName {
		return a.MemberName < b.MemberName
	}
	return a.MemberID < b.MemberID
}
