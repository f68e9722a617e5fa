package broadcast

import (
	"encoding/json"
	"time"

	judgemodel "arbiter/internal/judge/model"
	"arbiter/internal/ranking"
)

// EventType identifies the payload carried by an Envelope.
type EventType string

const (
	EventSubmissionCreated EventType = "submission.created"
	EventSubmissionUpdated EventType = "submission.updated"
	EventSubmissionFailed  EventType = "submission.failed"

	EventLeaderboardCell     EventType = "leaderboard.cell"
	EventLeaderboardFrozen   EventType = "leaderboard.frozen"
	EventLeaderboardUnfrozen EventType = "leaderboard.unfrozen"
)

// Envelope is the wire frame shared by every broadcast topic.
type Envelope struct {
	Type      EventType       `json:"type"`
	ContestID int64           `json:"contestId"`
	CreatedAt int64           `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

// SubmissionEvent carries the externally visible submission state.
// Source code and sandbox output never travel on broadcast topics.
type SubmissionEvent struct {
	SubmissionID string `json:"submissionId"`
	ContestID    int64  `json:"contestId"`
	ProblemID    int64  `json:"problemId"`
	MemberID     int64  `json:"memberId"`
	Status       string `json:"status"`
	Answer       string `json:"answer"`
	CreatedAt    int64  `json:"createdAt"`
}

// NewSubmissionEvent projects a submission onto its broadcast shape.
func NewSubmissionEvent(sub *judgemodel.Submission) SubmissionEvent {
	return SubmissionEvent{
		SubmissionID: sub.ID,
		ContestID:    sub.ContestID,
		ProblemID:    sub.ProblemID,
		MemberID:     sub.MemberID,
		Status:       string(sub.Status),
		Answer:       string(sub.Answer),
		CreatedAt:    sub.CreatedAt.Unix(),
	}
}

// CellEvent carries one recomputed leaderboard cell.
type CellEvent struct {
	MemberID int64        `json:"memberId"`
	Cell     ranking.Cell `json:"cell"`
}

// FrozenEvent announces that the leaderboard stopped updating publicly.
type FrozenEvent struct {
	FrozenAt int64 `json:"frozenAt"`
}

// UnfrozenEvent releases the frozen backlog in one batch: the final
// leaderboard plus every submission whose verdict was withheld.
type UnfrozenEvent struct {
	Leaderboard *ranking.Leaderboard `json:"leaderboard"`
	Released    []SubmissionEvent    `json:"released"`
}

func newEnvelope(typ EventType, contestID int64, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:      typ,
		ContestID: contestID,
		CreatedAt: time.Now().Unix(),
		Payload:   raw,
	}, nil
}

// DecodeEnvelope parses a broadcast frame received off the queue.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
