package model

import "time"

// Contest holds the judging-relevant contest state.
type Contest struct {
	ID      int64
	Name    string
	StartAt time.Time
	EndAt   time.Time

	// AutoJudge gates dispatch: submissions created while this is false
	// stay in JUDGING until an operator enqueues them explicitly.
	AutoJudge bool

	// FrozenAt is set while the leaderboard is frozen.
	FrozenAt *time.Time
	IsFrozen bool

	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Running reports whether t falls inside the contest window.
func (c *Contest) Running(t time.Time) bool {
	return c != nil && !t.Before(c.StartAt) && t.Before(c.EndAt)
}

// Role classifies a contest member.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleJudge      Role = "JUDGE"
	RoleStaff      Role = "STAFF"
	RoleContestant Role = "CONTESTANT"
	RoleGuest      Role = "GUEST"
)

// Roles lists every role that receives a scoped dashboard stream.
func Roles() []Role {
	return []Role{RoleAdmin, RoleJudge, RoleStaff, RoleContestant, RoleGuest}
}

// Member is a participant within one contest.
// Only RoleContestant members are ranked.
type Member struct {
	ID        int64
	ContestID int64
	Name      string
	Role      Role

	Archived  bool
	CreatedAt time.Time
}

// Ranked reports whether the member participates in the leaderboard.
func (m *Member) Ranked() bool {
	return m != nil && m.Role == RoleContestant
}
