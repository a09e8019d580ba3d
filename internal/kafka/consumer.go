package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // default 1s
	MaxWait        time.Duration // default 50ms
	// FromLatest makes a group without committed offsets skip the backlog.
	// Live clients only care about changes from now on.
	FromLatest bool
	Logger     *zap.Logger
}

type Message = kafka.Message

// Consumer reads change events with a consumer group. Offsets are committed
// explicitly once an event has been relayed.
type Consumer struct {
	r     *kafka.Reader
	topic string
}

func NewConsumerFromConfig(c Config) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       orInt(c.MinBytes, 1<<10),
		MaxBytes:       orInt(c.MaxBytes, 10<<20),
		CommitInterval: orDuration(c.CommitInterval, time.Second),
		MaxWait:        orDuration(c.MaxWait, 50*time.Millisecond),
		StartOffset:    kafka.FirstOffset,
	}
	if c.FromLatest {
		rc.StartOffset = kafka.LastOffset
	}
	if c.Logger != nil {
		l := c.Logger.Named("kafka").Sugar()
		rc.ErrorLogger = kafka.LoggerFunc(func(msg string, args ...any) {
			l.Warnf(msg, args...)
		})
	}
	return &Consumer{r: kafka.NewReader(rc), topic: c.Topic}
}

func (c *Consumer) Topic() string { return c.topic }

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

// Lag is the reader's last known distance from the partition head.
func (c *Consumer) Lag() int64 { return c.r.Stats().Lag }

func (c *Consumer) Close() error { return c.r.Close() }

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
