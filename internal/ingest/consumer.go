package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goodtune/restwell/internal/metrics"
	"github.com/goodtune/restwell/internal/presence"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const defaultPollTimeout = 5 * time.Second

// ConsumerConfig configures the signal topic reader.
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer streams signal envelopes from Kafka into a Recorder.
type Consumer struct {
	cfg      ConsumerConfig
	reader   MessageReader
	recorder *Recorder
	logger   zerolog.Logger
	poll     time.Duration
}

// NewConsumer creates a group reader for cfg.Topic starting at the first
// uncommitted offset.
func NewConsumer(cfg ConsumerConfig, recorder *Recorder, logger zerolog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("signal topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group must not be empty")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return NewConsumerWithReader(cfg, reader, recorder, logger), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(cfg ConsumerConfig, reader MessageReader, recorder *Recorder, logger zerolog.Logger) *Consumer {
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = defaultPollTimeout
	}
	return &Consumer{
		cfg:      cfg,
		reader:   reader,
		recorder: recorder,
		logger:   logger.With().Str("component", "ingest-consumer").Logger(),
		poll:     poll,
	}
}

// Close shuts down the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run consumes until ctx is cancelled or the reader is closed. Messages that
// cannot be decoded or recorded are logged and committed so a poison message
// does not stall the partition; a full monitor queue is the exception and is
// retried.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().
		Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).
		Strs("brokers", c.cfg.Brokers).
		Dur("poll_timeout", c.poll).
		Msg("Signal consumer started")
	defer c.logger.Info().Msg("Signal consumer stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.poll)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			c.logger.Error().Err(err).Msg("Failed to fetch signal")
			continue
		}

		if !c.handle(ctx, msg) {
			continue
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, c.poll)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit signal")
			}
		}
		commitCancel()
	}
}

// handle records one message and reports whether it should be committed.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	env, err := DecodeEnvelope(msg.Value)
	if err != nil {
		metrics.SignalsDropped.WithLabelValues("decode").Inc()
		c.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("Dropping undecodable signal")
		return true
	}

	for {
		err = c.recorder.Record(ctx, env)
		if !errors.Is(err, presence.ErrQueueFull) {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.poll / 10):
		}
	}
	if err != nil {
		metrics.SignalsDropped.WithLabelValues("record").Inc()
		c.logger.Error().Err(err).
			Str("kind", string(env.Kind)).
			Int64("offset", msg.Offset).
			Msg("Failed to record signal")
	}
	return true
}

// DecodeEnvelope parses and validates a JSON signal envelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
