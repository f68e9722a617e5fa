package mq

import (
	"context"
	"testing"
	"time"
)

func TestTokenLimiter(t *testing.T) {
	limiter := NewTokenLimiter(1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(ctx); err == nil {
		t.Fatal("expected acquire to block")
	}
	limiter.Release()
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestBuildWeightedSchedule(t *testing.T) {
	t.Parallel()
	schedule := buildWeightedSchedule([]WeightedTopic{
		{Topic: "judge", Weight: 3},
		{Topic: "rejudge", Weight: 1},
		{Topic: "ignored", Weight: 0},
	})
	want := []int{0, 0, 0, 1}
	if len(schedule) != len(want) {
		t.Fatalf("expected %v, got %v", want, schedule)
	}
	for i := range want {
		if schedule[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, schedule)
		}
	}
}

func TestSubscribeWeightedValidation(t *testing.T) {
	t.Parallel()
	q, err := NewKafkaQueue(KafkaConfig{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatalf("queue setup failed: %v", err)
	}
	handler := func(ctx context.Context, m *Message) error { return nil }
	lanes := []WeightedTopic{
		{Topic: "arbiter.judge", Weight: 4},
		{Topic: "arbiter.judge.rejudge", Weight: 1},
	}

	if err := q.SubscribeWeighted(context.Background(), nil, handler, nil, nil); err == nil {
		t.Fatal("expected empty lanes rejected")
	}
	if err := q.SubscribeWeighted(context.Background(), lanes, nil, nil, nil); err == nil {
		t.Fatal("expected nil handler rejected")
	}
	bad := []WeightedTopic{{Topic: "arbiter.judge", Weight: 0}}
	if err := q.SubscribeWeighted(context.Background(), bad, handler, nil, nil); err == nil {
		t.Fatal("expected zero weight rejected")
	}

	// Registration before Start only records the lanes, no broker contact.
	if err := q.SubscribeWeighted(context.Background(), lanes, handler, nil, NewTokenLimiter(2)); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
}
