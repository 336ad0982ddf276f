package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// LogDispatcher only logs planned reminders.
type LogDispatcher struct {
	logger zerolog.Logger
}

// NewLogDispatcher creates a dispatcher that writes reminders to the log.
func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With().Str("component", "reminder-log").Logger()}
}

// Name implements Dispatcher.
func (d *LogDispatcher) Name() string { return "log" }

// Dispatch implements Dispatcher.
func (d *LogDispatcher) Dispatch(_ context.Context, r Reminder) error {
	d.logger.Info().
		Time("fire_at", time.UnixMilli(r.FireAt)).
		Int64("last_fire", r.LastFire).
		Msg("Reminder planned")
	return nil
}

// MessageWriter is the subset of *kafka.Writer used for dispatch.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes planned reminders to a Kafka topic for a
// downstream notifier.
type KafkaDispatcher struct {
	writer MessageWriter
	key    string
}

// KafkaConfig configures the reminder topic writer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Key partitions reminders; typically the device or user id.
	Key string
}

// NewKafkaDispatcher creates a synchronous writer for cfg.Topic.
func NewKafkaDispatcher(cfg KafkaConfig) (*KafkaDispatcher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("reminder topic must not be empty")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return NewKafkaDispatcherWithWriter(w, cfg.Key), nil
}

// NewKafkaDispatcherWithWriter wraps an existing writer.
func NewKafkaDispatcherWithWriter(w MessageWriter, key string) *KafkaDispatcher {
	if key == "" {
		key = "restwell"
	}
	return &KafkaDispatcher{writer: w, key: key}
}

// Name implements Dispatcher.
func (d *KafkaDispatcher) Name() string { return "kafka" }

// Dispatch implements Dispatcher.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, r Reminder) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reminder: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(d.key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "fire_at", Value: []byte(strconv.FormatInt(r.FireAt, 10))},
		},
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish reminder: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
