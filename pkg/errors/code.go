package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Contest module errors
// 12000-12999: Submission & Judge module errors
// 13000-13999: Ranking & Leaderboard errors
// 14000-14999: Broadcast & Event errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300

	// Storage errors (10400-10499)
	StorageError     ErrorCode = 10400
	ObjectNotFound   ErrorCode = 10401
	ObjectTooLarge   ErrorCode = 10402
	FixtureCorrupted ErrorCode = 10403

	// ========== Contest Module Errors (11000-11999) ==========

	ContestNotFound    ErrorCode = 11000
	ContestNotStarted  ErrorCode = 11001
	ContestEnded       ErrorCode = 11002
	ContestFrozen      ErrorCode = 11003
	ContestNotFrozen   ErrorCode = 11004
	AutoJudgeDisabled  ErrorCode = 11005
	MemberNotFound     ErrorCode = 11100
	MemberRoleDenied   ErrorCode = 11101
	ProblemNotFound    ErrorCode = 11200
	FixtureNotFound    ErrorCode = 11201

	// ========== Submission & Judge Module Errors (12000-12999) ==========

	SubmissionNotFound     ErrorCode = 12000
	SubmissionNotJudgeable ErrorCode = 12001
	SubmissionCreateFailed ErrorCode = 12002
	SubmissionUpdateFailed ErrorCode = 12003
	LanguageNotSupported   ErrorCode = 12100
	SandboxUnavailable     ErrorCode = 12200
	SandboxCreateFailed    ErrorCode = 12201
	SandboxExecFailed      ErrorCode = 12202
	JudgeSystemError       ErrorCode = 12300
	JudgeQueueFull         ErrorCode = 12301
	RetryExhausted         ErrorCode = 12302

	// ========== Ranking & Leaderboard Errors (13000-13999) ==========

	LeaderboardBuildFailed    ErrorCode = 13000
	LeaderboardSnapshotFailed ErrorCode = 13001

	// ========== Broadcast & Event Errors (14000-14999) ==========

	BroadcastFailed  ErrorCode = 14000
	EventDecodeError ErrorCode = 14001
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized",
	Forbidden:           "Forbidden",
	TooManyRequests:     "Too many requests",
	ServiceUnavailable:  "Service unavailable",
	Timeout:             "Operation timed out",

	DatabaseError:     "Database error",
	RecordNotFound:    "Record not found",
	TransactionFailed: "Transaction failed",

	CacheError: "Cache error",
	LockFailed: "Failed to acquire lock",

	ValidationFailed: "Validation failed",

	StorageError:     "Object storage error",
	ObjectNotFound:   "Object not found",
	ObjectTooLarge:   "Object too large",
	FixtureCorrupted: "Test fixture is corrupted",

	ContestNotFound:   "Contest not found",
	ContestNotStarted: "Contest has not started",
	ContestEnded:      "Contest has ended",
	ContestFrozen:     "Leaderboard is frozen",
	ContestNotFrozen:  "Leaderboard is not frozen",
	AutoJudgeDisabled: "Auto judging is disabled for this contest",
	MemberNotFound:    "Member not found",
	MemberRoleDenied:  "Member role is not allowed to perform this operation",
	ProblemNotFound:   "Problem not found",
	FixtureNotFound:   "Test fixture not found",

	SubmissionNotFound:     "Submission not found",
	SubmissionNotJudgeable: "Submission is not in a judgeable state",
	SubmissionCreateFailed: "Failed to create submission",
	SubmissionUpdateFailed: "Failed to update submission",
	LanguageNotSupported:   "Language is not supported",
	SandboxUnavailable:     "Sandbox is unavailable",
	SandboxCreateFailed:    "Failed to create sandbox environment",
	SandboxExecFailed:      "Sandbox execution failed",
	JudgeSystemError:       "Judge system error",
	JudgeQueueFull:         "Judge worker pool is full",
	RetryExhausted:         "Retry limit exhausted",

	LeaderboardBuildFailed:    "Failed to build leaderboard",
	LeaderboardSnapshotFailed: "Failed to snapshot leaderboard",

	BroadcastFailed:  "Failed to broadcast event",
	EventDecodeError: "Failed to decode event",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden, c == MemberRoleDenied:
		return 403
	case c == NotFound, c == RecordNotFound, c == ContestNotFound, c == MemberNotFound,
		c == ProblemNotFound, c == SubmissionNotFound, c == ObjectNotFound, c == FixtureNotFound:
		return 404
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == SandboxUnavailable, c == JudgeQueueFull:
		return 503
	case c == InvalidParams, c == ValidationFailed, c == LanguageNotSupported:
		return 400
	case c == ContestFrozen, c == ContestNotFrozen, c == SubmissionNotJudgeable, c == AutoJudgeDisabled:
		return 409
	default:
		return 500
	}
}

// Retryable reports whether an error with this code represents a transient
// infrastructure failure that a redelivery may fix. Verdict outcomes never
// surface as errors, so they never reach this classification.
func (c ErrorCode) Retryable() bool {
	switch c {
	case SandboxUnavailable, SandboxCreateFailed, SandboxExecFailed,
		JudgeQueueFull, StorageError, CacheError, DatabaseError, Timeout, ServiceUnavailable:
		return true
	default:
		return false
	}
}
