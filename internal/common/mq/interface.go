package mq

import (
	"context"
	"time"
)

// MessageQueue is the broker surface the judge pipeline runs on: task
// lanes on the producer side, worker subscriptions on the consumer side.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the broker connection is alive.
	Ping(ctx context.Context) error

	// Close releases the broker connection.
	Close() error
}

// Producer publishes messages to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer registers handlers and drives the consume loops.
type Consumer interface {
	// Subscribe registers a handler for a topic with default options.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc) error

	// SubscribeWithOptions registers a handler with explicit options.
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// Start launches the consume loops for every registered subscription.
	Start() error

	// Stop drains and shuts down the consume loops.
	Stop() error
}

// Message is the unit carried over the broker.
type Message struct {
	// ID identifies the message; judge tasks reuse the submission ID.
	ID string `json:"id"`

	// Body is the payload.
	Body []byte `json:"body"`

	// Headers carries transport metadata.
	Headers map[string]string `json:"headers"`

	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`

	// Priority is the message priority (0-255, 0 is highest).
	Priority uint8 `json:"priority"`

	// Retry bookkeeping for the handler-level retry loop.
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Expiration drops the message once it has sat in the queue too long.
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc processes one message. A non-nil error triggers the
// retry loop; exhausted messages move to the dead-letter topic.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes a single subscription.
type SubscribeOptions struct {
	// ConsumerGroup names the Kafka consumer group.
	ConsumerGroup string

	// PrefetchCount sets how many messages are buffered per worker.
	// Default: 1, so a slow judge run does not hoard tasks.
	PrefetchCount int

	// Concurrency sets the number of handler workers.
	// Default: 1
	Concurrency int

	// MaxRetries caps handler retries before dead-lettering.
	// Default: 3
	MaxRetries int

	// RetryDelay is the pause between handler retries.
	// Default: 1 second
	RetryDelay time.Duration

	// DeadLetterTopic receives messages that exhausted their retries.
	DeadLetterTopic string

	// MessageTTL expires messages that outlive it in the queue.
	MessageTTL time.Duration
}

// SetDefaults fills the zero-valued options.
func (o *SubscribeOptions) SetDefaults() {
	if o.PrefetchCount == 0 {
		o.PrefetchCount = 1
	}
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage wraps a payload with initialized headers and retry defaults.
func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		RetryCount: 0,
		MaxRetries: 3,
	}
}
