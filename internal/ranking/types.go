// Package ranking converts judged submissions into a deterministic,
// tie-broken leaderboard with freeze semantics.
package ranking

import "time"

// WrongAttemptPenaltySeconds is charged per wrong attempt on a problem
// that was eventually solved.
const WrongAttemptPenaltySeconds = 1200

// Cell is the per (member, problem) leaderboard entry. Derived data:
// always rebuildable from the submission set, never a source of truth.
type Cell struct {
	ProblemID     int64      `json:"problem_id"`
	ProblemLetter string     `json:"problem_letter"`
	Accepted      bool       `json:"accepted"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`

	// WrongSubmissions counts non-accepted attempts before the first
	// accepted one, or all attempts when the problem was never solved.
	WrongSubmissions int `json:"wrong_submissions"`

	// PenaltySeconds is zero for unsolved problems regardless of the
	// wrong attempt count.
	PenaltySeconds int64 `json:"penalty_seconds"`
}

// Row is one member's leaderboard line.
type Row struct {
	MemberID       int64  `json:"member_id"`
	MemberName     string `json:"member_name"`
	Score          int    `json:"score"`
	PenaltySeconds int64  `json:"penalty_seconds"`
	Cells          []Cell `json:"cells"`

	// acceptedDesc holds the row's accepted timestamps sorted
	// most-recent-first, used only for tie-breaking.
	acceptedDesc []time.Time
}

// Leaderboard is the full ranked standings of one contest.
type Leaderboard struct {
	ContestID   int64     `json:"contest_id"`
	Rows        []Row     `json:"rows"`
	Frozen      bool      `json:"frozen"`
	GeneratedAt time.Time `json:"generated_at"`
}
