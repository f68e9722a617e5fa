// Package service holds the contest-facing side of the judging
// pipeline: submission intake, dispatch, and freeze transitions.
package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"arbiter/internal/common/mq"
	judgemodel "arbiter/internal/judge/model"
	appErr "arbiter/pkg/errors"
	"arbiter/pkg/utils/logger"
)

// Default judging lanes. Fresh submissions and reruns travel on
// separate topics so a rejudge storm cannot starve live traffic; the
// worker drains both with a weighted subscription.
const (
	TopicJudge      = "arbiter.judge"
	TopicRejudge    = "arbiter.judge.rejudge"
	TopicDeadLetter = "arbiter.judge.dead"
)

// Dispatcher enqueues judge tasks. Callers invoke it from after-commit
// hooks only, so a task never references an uncommitted submission row.
type Dispatcher struct {
	queue        mq.MessageQueue
	judgeTopic   string
	rejudgeTopic string
}

// NewDispatcher creates a dispatcher. Empty topics fall back to the
// default lanes.
func NewDispatcher(queue mq.MessageQueue, judgeTopic, rejudgeTopic string) (*Dispatcher, error) {
	if queue == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("message queue is required")
	}
	if judgeTopic == "" {
		judgeTopic = TopicJudge
	}
	if rejudgeTopic == "" {
		rejudgeTopic = TopicRejudge
	}
	return &Dispatcher{queue: queue, judgeTopic: judgeTopic, rejudgeTopic: rejudgeTopic}, nil
}

// Enqueue publishes one judge task. Reruns go to the rejudge lane.
func (d *Dispatcher) Enqueue(ctx context.Context, task *judgemodel.JudgeTask) error {
	if task == nil || task.SubmissionID == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("judge task requires a submission id")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode judge task")
	}
	message := mq.NewMessage(body)
	message.ID = task.SubmissionID

	topic := d.judgeTopic
	if task.Rerun {
		topic = d.rejudgeTopic
	}
	if err := d.queue.Publish(ctx, topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "dispatch submission %s", task.SubmissionID)
	}
	logger.Debug(ctx, "judge task dispatched",
		zap.String("submission_id", task.SubmissionID),
		zap.String("topic", topic),
		zap.Bool("rerun", task.Rerun))
	return nil
}
