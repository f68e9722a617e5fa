package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"arbiter/internal/common/mq"
	contestmodel "arbiter/internal/contest/model"
	judgemodel "arbiter/internal/judge/model"
	"arbiter/internal/ranking"
	appErr "arbiter/pkg/errors"
	"arbiter/pkg/utils/logger"

	"go.uber.org/zap"
)

// Broadcaster publishes contest events to their scoped topics.
// Callers invoke it from after-commit hooks; a publish failure is
// logged and reported but never rolls back the triggering write.
type Broadcaster interface {
	// Submission sends a submission lifecycle event to the owning
	// member's stream and to every staff dashboard.
	Submission(ctx context.Context, typ EventType, sub *judgemodel.Submission) error

	// SubmissionStaff sends a submission event to staff dashboards only.
	// Used while the leaderboard is frozen so verdicts stay withheld from
	// contestants until the unfreeze batch.
	SubmissionStaff(ctx context.Context, typ EventType, sub *judgemodel.Submission) error

	// CellUpdated sends one recomputed leaderboard cell to the given
	// role dashboards. During a freeze the caller restricts roles to
	// staff so the public board stays still.
	CellUpdated(ctx context.Context, contestID int64, cell CellEvent, roles []contestmodel.Role) error

	// Frozen announces a freeze on every role dashboard.
	Frozen(ctx context.Context, contestID int64, frozenAt time.Time) error

	// Unfrozen releases the final leaderboard and the withheld
	// submission batch on every role dashboard.
	Unfrozen(ctx context.Context, board *ranking.Leaderboard, released []*judgemodel.Submission) error
}

// MQBroadcaster publishes envelopes over the shared message queue.
type MQBroadcaster struct {
	queue mq.MessageQueue
}

func NewMQBroadcaster(queue mq.MessageQueue) *MQBroadcaster {
	return &MQBroadcaster{queue: queue}
}

var _ Broadcaster = (*MQBroadcaster)(nil)

func (b *MQBroadcaster) Submission(ctx context.Context, typ EventType, sub *judgemodel.Submission) error {
	return b.submission(ctx, typ, sub, true)
}

func (b *MQBroadcaster) SubmissionStaff(ctx context.Context, typ EventType, sub *judgemodel.Submission) error {
	return b.submission(ctx, typ, sub, false)
}

func (b *MQBroadcaster) submission(ctx context.Context, typ EventType, sub *judgemodel.Submission, includeMember bool) error {
	if sub == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("submission is nil")
	}
	env, err := newEnvelope(typ, sub.ContestID, NewSubmissionEvent(sub))
	if err != nil {
		return appErr.Wrap(err, appErr.BroadcastFailed)
	}

	topics := make([]string, 0, len(StaffRoles())+1)
	if includeMember {
		topics = append(topics, MemberSubmissions(sub.ContestID, sub.MemberID))
	}
	for _, role := range StaffRoles() {
		topics = append(topics, ContestDashboard(sub.ContestID, role))
	}
	return b.publish(ctx, sub.ID, env, topics)
}

func (b *MQBroadcaster) CellUpdated(ctx context.Context, contestID int64, cell CellEvent, roles []contestmodel.Role) error {
	env, err := newEnvelope(EventLeaderboardCell, contestID, cell)
	if err != nil {
		return appErr.Wrap(err, appErr.BroadcastFailed)
	}
	topics := make([]string, 0, len(roles))
	for _, role := range roles {
		topics = append(topics, ContestDashboard(contestID, role))
	}
	return b.publish(ctx, "", env, topics)
}

func (b *MQBroadcaster) Frozen(ctx context.Context, contestID int64, frozenAt time.Time) error {
	env, err := newEnvelope(EventLeaderboardFrozen, contestID, FrozenEvent{FrozenAt: frozenAt.Unix()})
	if err != nil {
		return appErr.Wrap(err, appErr.BroadcastFailed)
	}
	return b.publish(ctx, "", env, b.allDashboards(contestID))
}

func (b *MQBroadcaster) Unfrozen(ctx context.Context, board *ranking.Leaderboard, released []*judgemodel.Submission) error {
	if board == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("leaderboard is nil")
	}
	batch := make([]SubmissionEvent, 0, len(released))
	for _, sub := range released {
		batch = append(batch, NewSubmissionEvent(sub))
	}
	env, err := newEnvelope(EventLeaderboardUnfrozen, board.ContestID, UnfrozenEvent{
		Leaderboard: board,
		Released:    batch,
	})
	if err != nil {
		return appErr.Wrap(err, appErr.BroadcastFailed)
	}
	return b.publish(ctx, "", env, b.allDashboards(board.ContestID))
}

func (b *MQBroadcaster) allDashboards(contestID int64) []string {
	roles := contestmodel.Roles()
	topics := make([]string, 0, len(roles))
	for _, role := range roles {
		topics = append(topics, ContestDashboard(contestID, role))
	}
	return topics
}

// publish sends one envelope to every topic. All topics are attempted
// even when one fails; the first error is returned.
func (b *MQBroadcaster) publish(ctx context.Context, messageID string, env *Envelope, topics []string) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return appErr.Wrap(err, appErr.BroadcastFailed)
	}

	var firstErr error
	for _, topic := range topics {
		message := mq.NewMessage(raw)
		if messageID != "" {
			message.ID = messageID
		}
		if err := b.queue.Publish(ctx, topic, message); err != nil {
			logger.Error(ctx, "broadcast publish failed",
				zap.String("topic", topic),
				zap.String("event_type", string(env.Type)),
				zap.Error(err))
			if firstErr == nil {
				firstErr = appErr.Wrapf(err, appErr.BroadcastFailed, "topic %s", topic)
			}
		}
	}
	return firstErr
}
