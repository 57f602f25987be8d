package mongo

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/pkg/importer"
	"github.com/turbolytics/pimsync/pkg/transform"
)

// Sink upserts payloads by product_id into the collection named after the
// object type.
type Sink struct {
	client   *mongo.Client
	connURI  *url.URL
	database string
	logger   *zap.Logger

	statsMu sync.RWMutex
	stats   importer.SinkStats
}

func NewSink(uri *url.URL, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	database := databaseName(uri)

	return &Sink{
		connURI:  uri,
		database: database,
		logger:   logger,
		stats: importer.SinkStats{
			SinkSpecific: map[string]any{
				"database": database,
			},
		},
	}, nil
}

func (s *Sink) Connect(ctx context.Context) error {
	client, err := connect(ctx, s.connURI)

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if err != nil {
		s.stats.ConnectionHealthy = false
		s.stats.LastError = err.Error()
		return err
	}

	s.client = client
	s.stats.ConnectionHealthy = true
	s.stats.LastError = ""

	s.logger.Info("MongoDB sink connected", zap.String("database", s.database))
	return nil
}

func (s *Sink) Close(ctx context.Context) error {
	s.statsMu.Lock()
	s.stats.ConnectionHealthy = false
	s.statsMu.Unlock()

	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Sink) Write(ctx context.Context, objectType string, payloads []transform.Payload) error {
	if len(payloads) == 0 {
		return nil
	}
	if s.client == nil {
		return ErrNotConnected
	}

	coll := s.client.Database(s.database).Collection(objectType)
	result, err := coll.BulkWrite(ctx, upsertModels(payloads), options.BulkWrite().SetOrdered(false))
	if err != nil {
		s.statsMu.Lock()
		s.stats.WriteErrorCount++
		s.stats.LastError = err.Error()
		s.statsMu.Unlock()
		return err
	}

	s.statsMu.Lock()
	s.stats.TotalWrites++
	s.stats.TotalPayloads += int64(len(payloads))
	s.stats.LastWriteAt = time.Now()
	s.stats.LastError = ""
	s.statsMu.Unlock()

	s.logger.Debug("Payloads upserted",
		zap.String("collection", objectType),
		zap.Int64("upserted", result.UpsertedCount),
		zap.Int64("modified", result.ModifiedCount))
	return nil
}

// upsertModels sets only present fields, so absent fields never become
// nulls in the destination.
func upsertModels(payloads []transform.Payload) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(payloads))
	for _, p := range payloads {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"product_id": p.ProductID}).
			SetUpdate(bson.M{"$set": p.Map()}).
			SetUpsert(true))
	}
	return models
}

func (s *Sink) Stats() importer.SinkStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	stats := s.stats
	stats.SinkSpecific = make(map[string]any, len(s.stats.SinkSpecific))
	for k, v := range s.stats.SinkSpecific {
		stats.SinkSpecific[k] = v
	}
	return stats
}
