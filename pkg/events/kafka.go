package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes events as JSON to a topic, keyed by pair so one market's
// events stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
	}
}

func (k *KafkaSink) Write(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := e.Pair
	if key == "" {
		key = e.Kind.String()
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: b,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-kind", Value: []byte(e.Kind.String())},
		},
	})
}

func (k *KafkaSink) Close() error { return k.writer.Close() }

// LogSink is used when no broker is configured.
type LogSink struct {
	Log interface {
		Infow(msg string, keysAndValues ...interface{})
	}
}

func (l LogSink) Write(_ context.Context, e Event) error {
	l.Log.Infow("audit_event",
		"kind", e.Kind.String(),
		"event_id", e.ID,
		"pair", e.Pair,
		"owner", e.Owner,
		"position_id", e.PositionID,
		"reason", e.Reason,
	)
	return nil
}

func (LogSink) Close() error { return nil }
