package service_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"arbiter/internal/common/mq"
	"arbiter/internal/judge/service"
	appErr "arbiter/pkg/errors"
)

type published struct {
	topic string
	msg   *mq.Message
}

type fakeQueue struct {
	mu        sync.Mutex
	published []published
}

func (f *fakeQueue) Publish(ctx context.Context, topic string, msg *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, msg: msg})
	return nil
}

func (f *fakeQueue) Subscribe(ctx context.Context, topic string, handler mq.HandlerFunc) error {
	return nil
}

func (f *fakeQueue) SubscribeWithOptions(ctx context.Context, topic string, handler mq.HandlerFunc, opts *mq.SubscribeOptions) error {
	return nil
}

func (f *fakeQueue) Start() error { return nil }

func (f *fakeQueue) Stop() error { return nil }

func (f *fakeQueue) Ping(ctx context.Context) error { return nil }

func (f *fakeQueue) Close() error { return nil }

func TestParsePoolRetryCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{name: "nil headers", headers: nil, want: 0},
		{name: "absent", headers: map[string]string{"other": "5"}, want: 0},
		{name: "present", headers: map[string]string{"x-pool-retry": "3"}, want: 3},
		{name: "garbage", headers: map[string]string{"x-pool-retry": "many"}, want: 0},
		{name: "negative", headers: map[string]string{"x-pool-retry": "-2"}, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := service.ParsePoolRetryCount(tt.headers); got != tt.want {
				t.Fatalf("ParsePoolRetryCount(%v) = %d, want %d", tt.headers, got, tt.want)
			}
		})
	}
}

func TestComputePoolBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		retryCount int
		base       time.Duration
		max        time.Duration
		want       time.Duration
	}{
		{name: "zero base disables delay", retryCount: 3, base: 0, max: time.Minute, want: 0},
		{name: "first bounce uses base", retryCount: 0, base: time.Second, max: time.Minute, want: time.Second},
		{name: "doubles per bounce", retryCount: 2, base: time.Second, max: time.Minute, want: 4 * time.Second},
		{name: "capped at max", retryCount: 10, base: time.Second, max: 8 * time.Second, want: 8 * time.Second},
		{name: "base above max clamps", retryCount: 0, base: time.Minute, max: time.Second, want: time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := service.ComputePoolBackoff(tt.retryCount, tt.base, tt.max)
			if got != tt.want {
				t.Fatalf("ComputePoolBackoff(%d, %v, %v) = %v, want %v",
					tt.retryCount, tt.base, tt.max, got, tt.want)
			}
		})
	}
}

func TestCloneMessageForRetryResetsHandlerCounter(t *testing.T) {
	t.Parallel()

	src := mq.NewMessage([]byte("payload"))
	src.ID = "sub-9"
	src.RetryCount = 2
	src.MaxRetries = 5
	src.Headers["trace"] = "abc"

	out := service.CloneMessageForRetry(src, 4)
	if out.ID != src.ID {
		t.Fatalf("clone must keep the message id, got %q", out.ID)
	}
	if string(out.Body) != "payload" {
		t.Fatalf("clone must keep the body, got %q", out.Body)
	}
	if out.RetryCount != 0 {
		t.Fatalf("clone must reset the handler retry counter, got %d", out.RetryCount)
	}
	if out.Headers["trace"] != "abc" {
		t.Fatal("clone must carry existing headers")
	}
	if out.Headers["x-pool-retry"] != "4" {
		t.Fatalf("clone must stamp the pool retry header, got %q", out.Headers["x-pool-retry"])
	}
}

func TestRequeueForPoolFullPublishesWithBumpedHeader(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	msg := mq.NewMessage([]byte("task"))
	msg.ID = "sub-1"
	msg.Headers["x-pool-retry"] = "1"

	err := service.RequeueForPoolFull(context.Background(), queue, "arbiter.judge.rejudge", 5, 0, 0, msg)
	if err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(queue.published))
	}
	got := queue.published[0]
	if got.topic != "arbiter.judge.rejudge" {
		t.Fatalf("published to %q, want the retry lane", got.topic)
	}
	if got.msg.Headers["x-pool-retry"] != strconv.Itoa(2) {
		t.Fatalf("pool retry header = %q, want 2", got.msg.Headers["x-pool-retry"])
	}
}

func TestRequeueForPoolFullCeilingSurfacesError(t *testing.T) {
	t.Parallel()

	queue := &fakeQueue{}
	msg := mq.NewMessage([]byte("task"))
	msg.Headers["x-pool-retry"] = "5"

	err := service.RequeueForPoolFull(context.Background(), queue, "arbiter.judge.rejudge", 5, 0, 0, msg)
	if !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected queue-full error at the ceiling, got %v", err)
	}
	if len(queue.published) != 0 {
		t.Fatal("no publish may happen once the ceiling is reached")
	}
}

func TestRequeueForPoolFullMissingLane(t *testing.T) {
	t.Parallel()

	err := service.RequeueForPoolFull(context.Background(), nil, "", 5, 0, 0, mq.NewMessage(nil))
	if !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected service unavailable without a retry lane, got %v", err)
	}
}

func TestRequeueForPoolFullNilMessage(t *testing.T) {
	t.Parallel()

	err := service.RequeueForPoolFull(context.Background(), &fakeQueue{}, "arbiter.judge.rejudge", 5, 0, 0, nil)
	if !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected invalid params for a nil message, got %v", err)
	}
}
