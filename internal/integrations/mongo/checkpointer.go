package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/pkg/importer"
)

const CheckpointCollection = "pimsync_checkpoints"

// Checkpointer stores run status as a JSON string so it round trips
// without BSON numeric widening.
type Checkpointer struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

type checkpointDocument struct {
	RunID     string    `bson:"_id"`
	Status    string    `bson:"status"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func NewCheckpointer(ctx context.Context, uri *url.URL, logger *zap.Logger) (*Checkpointer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := connect(ctx, uri)
	if err != nil {
		return nil, err
	}

	return &Checkpointer{
		client: client,
		coll:   client.Database(databaseName(uri)).Collection(CheckpointCollection),
		logger: logger,
	}, nil
}

func (c *Checkpointer) Load(ctx context.Context, runID string) (*importer.Checkpoint, error) {
	var doc checkpointDocument
	err := c.coll.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		c.logger.Info("No checkpoint found", zap.String("run_id", runID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var status importer.Status
	if err := json.Unmarshal([]byte(doc.Status), &status); err != nil {
		return nil, err
	}

	return &importer.Checkpoint{
		RunID:     doc.RunID,
		Status:    status,
		Timestamp: doc.UpdatedAt,
	}, nil
}

func (c *Checkpointer) Save(ctx context.Context, checkpoint *importer.Checkpoint) error {
	status, err := json.Marshal(checkpoint.Status)
	if err != nil {
		return err
	}

	doc := checkpointDocument{
		RunID:     checkpoint.RunID,
		Status:    string(status),
		UpdatedAt: checkpoint.Timestamp,
	}
	_, err = c.coll.ReplaceOne(ctx,
		bson.M{"_id": checkpoint.RunID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return err
	}

	c.logger.Debug("Checkpoint saved", zap.String("run_id", checkpoint.RunID))
	return nil
}

func (c *Checkpointer) Delete(ctx context.Context, runID string) error {
	if _, err := c.coll.DeleteOne(ctx, bson.M{"_id": runID}); err != nil {
		return err
	}
	c.logger.Info("Checkpoint deleted", zap.String("run_id", runID))
	return nil
}

func (c *Checkpointer) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
