package outbox

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/tracing"
)

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSender publishes a message on the topic of its event type, keyed by
// aggregate id so one order's events stay on one partition.
type KafkaSender struct {
	w Writer
}

func NewKafkaSender(w Writer) *KafkaSender { return &KafkaSender{w: w} }

func (s *KafkaSender) Send(ctx context.Context, m Message) error {
	topic := events.TopicFor(m.Type)
	if topic == "" {
		return Permanent(fmt.Errorf("no topic for event type %q", m.Type))
	}
	headers := []kafka.Header{
		{Key: "x-event-id", Value: []byte(m.EventID)},
		{Key: "x-event-type", Value: []byte(m.Type)},
		{Key: "x-event-version", Value: []byte("1")},
	}
	headers = tracing.InjectKafkaHeaders(tracing.WithTraceparent(ctx, m.Traceparent), headers)

	msg := kafka.Message{
		Topic:   topic,
		Key:     events.PartitionKey(m.AggregateID),
		Value:   m.Payload,
		Headers: headers,
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", m.EventID, topic, err)
	}
	return nil
}
