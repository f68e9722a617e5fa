package model

import (
	"time"
	"unicode/utf8"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	// StatusJudging means the submission is waiting for or undergoing judging.
	StatusJudging Status = "JUDGING"
	// StatusJudged means a verdict has been assigned.
	StatusJudged Status = "JUDGED"
	// StatusFailed means judging gave up after exhausting retries.
	StatusFailed Status = "FAILED"
)

// Answer is the verdict assigned to a judged submission.
type Answer string

const (
	AnswerNoAnswer            Answer = "NO_ANSWER"
	AnswerAccepted            Answer = "ACCEPTED"
	AnswerWrongAnswer         Answer = "WRONG_ANSWER"
	AnswerCompilationError    Answer = "COMPILATION_ERROR"
	AnswerRuntimeError        Answer = "RUNTIME_ERROR"
	AnswerTimeLimitExceeded   Answer = "TIME_LIMIT_EXCEEDED"
	AnswerMemoryLimitExceeded Answer = "MEMORY_LIMIT_EXCEEDED"
)

// ValidAnswer reports whether a is a known verdict value.
func ValidAnswer(a Answer) bool {
	switch a {
	case AnswerNoAnswer, AnswerAccepted, AnswerWrongAnswer, AnswerCompilationError,
		AnswerRuntimeError, AnswerTimeLimitExceeded, AnswerMemoryLimitExceeded:
		return true
	}
	return false
}

// Submission is one contestant attempt at a problem.
// While StatusJudging the answer stays AnswerNoAnswer; a verdict only
// becomes meaningful once the status is StatusJudged. Rows are never
// deleted, only marked archived and filtered out at the query layer.
type Submission struct {
	ID         string
	ContestID  int64
	ProblemID  int64
	MemberID   int64
	LanguageID string
	SourceKey  string

	Status Status
	Answer Answer

	// Frozen marks a submission judged inside the freeze window. It is
	// cleared when the contest unfreezes and the batch is released.
	Frozen bool

	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Judgeable reports whether a judge attempt may run for the submission.
// Only StatusJudging submissions are judged; stale redeliveries for a
// submission that already holds a verdict are dropped by the worker.
func (s *Submission) Judgeable() bool {
	return s != nil && s.Status == StatusJudging
}

// Execution is the diagnostic record written alongside a verdict.
// Immutable once stored; reruns insert a fresh row.
type Execution struct {
	ID           string
	SubmissionID string
	Answer       Answer

	TotalTestcases   int
	LastTestcaseHit  int
	FixtureKey       string
	ObservedOutput   string
	CompileLog       string

	CreatedAt time.Time
}

// MaxObservedOutputBytes bounds the captured program output per execution.
const MaxObservedOutputBytes = 8 << 10

// TruncateOutput clamps program output to the execution record bound.
// The cut never splits a multi-byte rune.
func TruncateOutput(out string) string {
	if len(out) <= MaxObservedOutputBytes {
		return out
	}
	cut := MaxObservedOutputBytes
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut]
}
