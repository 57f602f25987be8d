package kafka

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/pkg/transform"
)

const ObjectTypeHeader = "object_type"

// Sink publishes one message per payload keyed by product id.
type Sink struct {
	*producer
}

func NewSink(uri *url.URL, logger *zap.Logger) (*Sink, error) {
	p, err := newProducer(uri, "pimsync-sink", logger)
	if err != nil {
		return nil, err
	}
	return &Sink{producer: p}, nil
}

func (s *Sink) Write(ctx context.Context, objectType string, payloads []transform.Payload) error {
	msgs := make([]*kafka.Message, 0, len(payloads))
	for _, p := range payloads {
		msg, err := newPayloadMessage(s.topic, objectType, p)
		if err != nil {
			s.recordError(err)
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := s.publish(ctx, msgs); err != nil {
		return err
	}

	s.logger.Debug("Payloads published",
		zap.String("topic", s.topic),
		zap.String("object_type", objectType),
		zap.Int("count", len(msgs)))
	return nil
}

func newPayloadMessage(topic, objectType string, p transform.Payload) (*kafka.Message, error) {
	value, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(p.ProductID),
		Value: value,
		Headers: []kafka.Header{
			{Key: ObjectTypeHeader, Value: []byte(objectType)},
		},
	}, nil
}
