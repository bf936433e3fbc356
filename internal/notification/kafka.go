package notification

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications to a topic keyed by user id. A circuit
// breaker stops hammering an unavailable broker.
type KafkaSink struct {
	writer  MessageWriter
	breaker *gobreaker.CircuitBreaker
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
}

func NewKafkaSink(writer MessageWriter, logger *zap.Logger) *KafkaSink {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-notifications",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &KafkaSink{writer: writer, breaker: breaker}
}

func (k *KafkaSink) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.UserID.String()),
		Value: payload,
		Time:  n.CreatedAt,
	}
	_, err = k.breaker.Execute(func() (interface{}, error) {
		return nil, k.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to write notification to kafka: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads notifications published by KafkaSink.
type Consumer struct {
	reader MessageReader
	logger *zap.Logger
	// retryDelay is the pause after a failed fetch.
	retryDelay time.Duration
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
}

func NewConsumer(reader MessageReader, logger *zap.Logger) *Consumer {
	return &Consumer{reader: reader, logger: logger.Named("consumer"), retryDelay: time.Second}
}

// MessageHandler processes one decoded notification.
type MessageHandler func(ctx context.Context, n Notification) error

// StartConsuming fetches until ctx is done. A message is committed only after
// handler succeeds; undecodable messages are logged and committed so they do
// not block the partition.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to fetch message", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
			continue
		}

		var n Notification
		if err := json.Unmarshal(msg.Value, &n); err != nil {
			c.logger.Error("dropping undecodable message", zap.Int64("offset", msg.Offset), zap.Error(err))
		} else if err := handler(ctx, n); err != nil {
			c.logger.Error("failed to handle notification", zap.Stringer("id", n.ID), zap.Error(err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message", zap.Error(err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
