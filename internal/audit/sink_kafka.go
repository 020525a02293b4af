package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"covenant/internal/platform/kafka/producer"
)

// KafkaSink publishes audit events to a Kafka topic keyed by user ID, so
// events for one user land on one partition in order.
type KafkaSink struct {
	producer *producer.Producer
	topic    string
}

func NewKafkaSink(p *producer.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic}
}

func (s *KafkaSink) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	return s.producer.ProduceAsync(&producer.Message{
		Topic: s.topic,
		Key:   []byte(event.UserID),
		Value: payload,
		Headers: map[string]string{
			"action": event.Action,
		},
	})
}
