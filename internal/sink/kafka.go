package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each record as a JSON message keyed by task name, so
// every cycle of a task lands on the same partition.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a sink producing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka sink: topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{writer: w}, nil
}

// Write implements Sink.
func (s *KafkaSink) Write(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(rec.Task),
		Value: value,
		Time:  rec.Time,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
