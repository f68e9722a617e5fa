// Package result defines sandbox execution results and verdict mapping.
package result

// Verdict represents the final outcome of execution.
type Verdict string

const (
	VerdictAC  Verdict = "AC"
	VerdictWA  Verdict = "WA"
	VerdictTLE Verdict = "TLE"
	VerdictMLE Verdict = "MLE"
	VerdictRE  Verdict = "RE"
	VerdictCE  Verdict = "CE"
	VerdictSE  Verdict = "SE"
)

// RunResult captures raw execution data for one command.
type RunResult struct {
	ExitCode  int
	TimeMs    int64
	Stdout    string
	Stderr    string
	TimedOut  bool
	OomKilled bool
}

// CompileResult contains compilation outcomes.
type CompileResult struct {
	OK       bool
	ExitCode int
	TimeMs   int64
	Log      string
}

// JudgeResult is the unified response structure for a submission.
// LastTestIndex is 1-based and names the case that decided the verdict;
// it equals TotalTests when every case passed.
type JudgeResult struct {
	SubmissionID  string
	Verdict       Verdict
	TotalTests    int
	LastTestIndex int

	// ObservedOutput is the program output on the deciding test case,
	// bounded by the caller before persistence.
	ObservedOutput string

	Compile *CompileResult
}
