package notify

import (
	"context"
	"time"

	"bazaar/internal/market"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes order events to a Kafka topic keyed by recipient, so
// all events for one user land on the same partition.
type KafkaSink struct {
	writer MessageWriter
	now    func() time.Time
}

// kafkaBatchTimeout caps how long an event waits for its batch to fill.
const kafkaBatchTimeout = 10 * time.Millisecond

// NewKafkaWriter builds an asynchronous writer for the given topic.
// WriteMessages only enqueues; delivery errors are reported to logger.
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		BatchTimeout: kafkaBatchTimeout,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka delivery failed", zap.String("topic", topic), zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
}

func NewKafkaSink(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer, now: time.Now}
}

func (k *KafkaSink) Notify(ctx context.Context, recipientID string, event market.Event) error {
	payload, err := encode(recipientID, event)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(recipientID),
		Value: payload,
		Time:  k.now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

// Close flushes and closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
