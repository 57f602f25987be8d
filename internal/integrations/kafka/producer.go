package kafka

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/pkg/importer"
)

var ErrNotConnected = errors.New("kafka producer is not connected")

// producer owns a confluent producer for one topic and publishes batches
// that only succeed once every message has a delivery report.
type producer struct {
	config   kafka.ConfigMap
	producer *kafka.Producer
	topic    string
	brokers  string
	logger   *zap.Logger

	statsMu sync.RWMutex
	stats   importer.SinkStats
}

// parseURI reads kafka://broker1:9092,broker2:9092/topic?key=value, where
// query parameters are passed through as librdkafka settings.
func parseURI(uri *url.URL, clientID string) (string, string, kafka.ConfigMap, error) {
	topic := strings.TrimPrefix(uri.Path, "/")
	if topic == "" {
		return "", "", nil, fmt.Errorf("topic must be specified in URL path")
	}

	brokers := uri.Host
	if brokers == "" {
		return "", "", nil, fmt.Errorf("brokers must be specified in URL host")
	}

	config := kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         clientID,

		// every payload must be durably acknowledged before a page counts
		"acks":               "all",
		"enable.idempotence": "true",
		"linger.ms":          "5",
		"compression.type":   "snappy",

		"request.timeout.ms":  "5000",
		"delivery.timeout.ms": "30000",
	}

	for key, values := range uri.Query() {
		if len(values) > 0 {
			config[key] = values[0]
		}
	}
	return topic, brokers, config, nil
}

func newProducer(uri *url.URL, clientID string, logger *zap.Logger) (*producer, error) {
	topic, brokers, config, err := parseURI(uri, clientID)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &producer{
		topic:   topic,
		brokers: brokers,
		config:  config,
		logger:  logger,
		stats: importer.SinkStats{
			SinkSpecific: map[string]any{
				"topic":   topic,
				"brokers": brokers,
			},
		},
	}, nil
}

func (p *producer) Connect(ctx context.Context) error {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	kp, err := kafka.NewProducer(&p.config)
	if err != nil {
		p.stats.ConnectionHealthy = false
		p.stats.LastError = err.Error()
		return err
	}

	p.producer = kp
	p.stats.ConnectionHealthy = true
	p.stats.LastError = ""

	// delivery reports go to per batch channels; only client level errors
	// arrive here
	go func() {
		defer p.logger.Info("Producer event loop closed")

		for e := range kp.Events() {
			if ev, ok := e.(kafka.Error); ok {
				p.logger.Error("Producer error", zap.Error(ev))
			}
		}
	}()

	p.logger.Info("Kafka producer connected",
		zap.String("topic", p.topic),
		zap.String("brokers", p.brokers))

	return nil
}

func (p *producer) Close(ctx context.Context) error {
	if p.producer != nil {
		p.producer.Flush(5000)
		p.producer.Close()
		p.producer = nil
	}

	p.statsMu.Lock()
	p.stats.ConnectionHealthy = false
	p.statsMu.Unlock()
	return nil
}

// publish produces msgs and waits for a delivery report for each one. The
// first delivery failure is returned after all reports are drained.
func (p *producer) publish(ctx context.Context, msgs []*kafka.Message) error {
	if p.producer == nil {
		return ErrNotConnected
	}

	deliveries := make(chan kafka.Event, len(msgs))
	produced := 0
	var firstErr error

	for _, msg := range msgs {
		if err := p.producer.Produce(msg, deliveries); err != nil {
			firstErr = err
			break
		}
		produced++
	}

	for n := 0; n < produced; n++ {
		select {
		case <-ctx.Done():
			p.recordError(ctx.Err())
			return ctx.Err()
		case e := <-deliveries:
			m, ok := e.(*kafka.Message)
			if !ok {
				continue
			}
			if m.TopicPartition.Error != nil && firstErr == nil {
				firstErr = m.TopicPartition.Error
			}
		}
	}

	if firstErr != nil {
		p.recordError(firstErr)
		return firstErr
	}

	p.statsMu.Lock()
	p.stats.TotalWrites++
	p.stats.TotalPayloads += int64(len(msgs))
	p.stats.LastWriteAt = time.Now()
	p.stats.LastError = ""
	p.statsMu.Unlock()
	return nil
}

func (p *producer) recordError(err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.WriteErrorCount++
	p.stats.LastError = err.Error()
}

func (p *producer) Stats() importer.SinkStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()

	stats := p.stats
	stats.SinkSpecific = make(map[string]any, len(p.stats.SinkSpecific))
	for k, v := range p.stats.SinkSpecific {
		stats.SinkSpecific[k] = v
	}
	return stats
}
