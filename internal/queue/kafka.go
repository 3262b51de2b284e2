package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig is only required when the queue dispatcher runs; Validate is
// called at its startup rather than at config load.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
	// AutoOffsetReset picks where a brand new consumer group starts:
	// "earliest" (the default) or "latest". Groups with committed offsets
	// resume from those regardless.
	AutoOffsetReset string `yaml:"auto_offset_reset"`
	// MaxPollRecords bounds the reader's internal fetch buffer; zero keeps
	// the client default.
	MaxPollRecords int `yaml:"max_poll_records"`
}

func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("queue.kafka.brokers is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("queue.kafka.topic is required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("queue.kafka.group_id is required")
	}
	switch c.AutoOffsetReset {
	case "", "earliest", "latest":
	default:
		return fmt.Errorf("queue.kafka.auto_offset_reset must be earliest or latest, got %q", c.AutoOffsetReset)
	}
	if c.MaxPollRecords < 0 {
		return fmt.Errorf("queue.kafka.max_poll_records must not be negative")
	}
	return nil
}

// KafkaAdapter reads a consumer group with manual offset commits: Complete
// commits the message's offset, Abandon leaves it uncommitted so the group
// redelivers it after a rebalance or restart.
type KafkaAdapter struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func NewKafkaAdapter(cfg KafkaConfig, logger *slog.Logger) *KafkaAdapter {
	startOffset := kafka.FirstOffset
	if cfg.AutoOffsetReset == "latest" {
		startOffset = kafka.LastOffset
	}
	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     time.Second,
		// Offsets are committed one by one through Complete.
		CommitInterval: 0,
	}
	if cfg.MaxPollRecords > 0 {
		rc.QueueCapacity = cfg.MaxPollRecords
	}
	return &KafkaAdapter{
		reader: kafka.NewReader(rc),
		logger: logger.With("component", "kafka"),
	}
}

func (a *KafkaAdapter) Fetch(ctx context.Context) (*Message, error) {
	m, err := a.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	return &Message{Key: m.Key, Value: m.Value, token: m}, nil
}

func (a *KafkaAdapter) Complete(ctx context.Context, msg *Message) error {
	m, ok := msg.token.(kafka.Message)
	if !ok {
		return fmt.Errorf("message was not fetched from this adapter")
	}
	if err := a.reader.CommitMessages(ctx, m); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (a *KafkaAdapter) Abandon(_ context.Context, msg *Message) error {
	// Deliberately no commit; log at debug so redelivery storms are traceable.
	if m, ok := msg.token.(kafka.Message); ok {
		a.logger.Debug("message abandoned", "partition", m.Partition, "offset", m.Offset)
	}
	return nil
}

func (a *KafkaAdapter) Close() error {
	return a.reader.Close()
}
