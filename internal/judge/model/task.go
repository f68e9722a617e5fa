package model

// JudgeTask represents the Kafka payload for one judging attempt.
// Identity travels in the payload, never in ambient state: the worker has
// everything it needs to load the submission and its contest context.
type JudgeTask struct {
	SubmissionID string `json:"submission_id"`
	ContestID    int64  `json:"contest_id"`
	ProblemID    int64  `json:"problem_id"`
	MemberID     int64  `json:"member_id"`
	LanguageID   string `json:"language_id"`
	SourceKey    string `json:"source_key"`

	// Rerun marks an explicit re-enqueue of an already judged submission.
	Rerun bool `json:"rerun,omitempty"`
}
