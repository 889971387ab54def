package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = commit synchronously
	MaxWait        time.Duration // default 500ms
}

// Consumer is a thin wrapper around segmentio/kafka-go Reader. Offsets are
// committed explicitly by the caller after its side effects are durable.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumerFromConfig(c Config) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}
	mw := c.MaxWait
	if mw <= 0 {
		mw = 500 * time.Millisecond
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: c.CommitInterval,
		MaxWait:        mw,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{r: r}
}

type Message = kafka.Message

// Fetch blocks until a message is available or ctx is done.
func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

// Commit marks msgs as processed for the consumer group.
func (c *Consumer) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return c.r.CommitMessages(ctx, msgs...)
}

func (c *Consumer) Close() error { return c.r.Close() }
