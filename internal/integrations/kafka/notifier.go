package kafka

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/pkg/importer"
)

const (
	LevelSuccess = "success"
	LevelError   = "error"
)

// Notifier publishes run notifications to an alerts topic.
type Notifier struct {
	*producer
}

type notification struct {
	Level string `json:"level"`
	importer.Notification
}

func NewNotifier(uri *url.URL, logger *zap.Logger) (*Notifier, error) {
	p, err := newProducer(uri, "pimsync-notifier", logger)
	if err != nil {
		return nil, err
	}
	return &Notifier{producer: p}, nil
}

func (n *Notifier) Success(ctx context.Context, note importer.Notification) error {
	return n.send(ctx, LevelSuccess, note)
}

func (n *Notifier) Failure(ctx context.Context, note importer.Notification) error {
	return n.send(ctx, LevelError, note)
}

func (n *Notifier) send(ctx context.Context, level string, note importer.Notification) error {
	msg, err := newNotificationMessage(n.topic, level, note)
	if err != nil {
		return err
	}
	return n.publish(ctx, []*kafka.Message{msg})
}

func newNotificationMessage(topic, level string, note importer.Notification) (*kafka.Message, error) {
	value, err := json.Marshal(notification{Level: level, Notification: note})
	if err != nil {
		return nil, err
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(note.RunID),
		Value: value,
	}, nil
}
