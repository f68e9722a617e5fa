package model

// Problem is one task within a contest.
// Limits are fixed once the contest has started.
type Problem struct {
	ID        int64
	ContestID int64

	// Letter identifies the problem on the scoreboard (A, B, C...).
	Letter string
	Title  string

	TimeLimitMS   int
	MemoryLimitMB int

	// FixtureKey locates the test fixture pack in object storage.
	FixtureKey  string
	FixtureHash string

	Archived bool
}
