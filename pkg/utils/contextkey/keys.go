package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID      key = "trace_id"
	ContestID    key = "contest_id"
	MemberID     key = "member_id"
	SubmissionID key = "submission_id"
)
