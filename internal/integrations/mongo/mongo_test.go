package mongo

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/pkg/importer"
	"github.com/turbolytics/pimsync/pkg/transform"
)

func TestDatabaseName(t *testing.T) {
	u, err := url.Parse("mongodb://localhost:27017/cdp?directConnection=true")
	require.NoError(t, err)
	assert.Equal(t, "cdp", databaseName(u))

	u, err = url.Parse("mongodb://localhost:27017")
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabase, databaseName(u))
}

func TestUpsertModels(t *testing.T) {
	name := "Chair"
	models := upsertModels([]transform.Payload{
		{ProductID: "1", EntityType: "Product", ProductName: &name},
		{ProductID: "2", EntityType: "Product"},
	})
	require.Len(t, models, 2)

	m, ok := models[0].(*mongo.UpdateOneModel)
	require.True(t, ok)
	assert.Equal(t, bson.M{"product_id": "1"}, m.Filter)
	require.NotNil(t, m.Upsert)
	assert.True(t, *m.Upsert)

	set := m.Update.(bson.M)["$set"].(map[string]any)
	assert.Equal(t, "Chair", set["product_name"])

	set = models[1].(*mongo.UpdateOneModel).Update.(bson.M)["$set"].(map[string]any)
	_, present := set["product_name"]
	assert.False(t, present, "absent fields are not written")
}

func TestSink_WriteBeforeConnect(t *testing.T) {
	u, err := url.Parse("mongodb://localhost:27017/cdp")
	require.NoError(t, err)

	s, err := NewSink(u, nil)
	require.NoError(t, err)
	assert.NoError(t, s.Write(context.Background(), "products", nil))
	assert.ErrorIs(t, s.Write(context.Background(), "products", []transform.Payload{{ProductID: "1"}}), ErrNotConnected)
}

func TestIntegrationMongo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx,
		"mongo:6",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate mongoContainer: %s", err)
		}
	})

	connStr, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	uri, err := url.Parse(connStr + "/cdp")
	require.NoError(t, err)

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	t.Run("sink upserts by product id", func(t *testing.T) {
		sink, err := NewSink(uri, logger)
		require.NoError(t, err)
		require.NoError(t, sink.Connect(ctx))
		t.Cleanup(func() { sink.Close(ctx) })

		name := "Chair"
		renamed := "Armchair"
		first := []transform.Payload{
			{ProductID: "1", EntityType: "Product", ProductName: &name},
			{ProductID: "2", EntityType: "Product", ProductName: &name},
		}
		require.NoError(t, sink.Write(ctx, transform.DefaultObjectType, first))
		require.NoError(t, sink.Write(ctx, transform.DefaultObjectType, []transform.Payload{
			{ProductID: "1", EntityType: "Product", ProductName: &renamed},
		}))

		coll := sink.client.Database("cdp").Collection(transform.DefaultObjectType)
		count, err := coll.CountDocuments(ctx, bson.M{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		var doc bson.M
		require.NoError(t, coll.FindOne(ctx, bson.M{"product_id": "1"}).Decode(&doc))
		assert.Equal(t, "Armchair", doc["product_name"])

		stats := sink.Stats()
		assert.True(t, stats.ConnectionHealthy)
		assert.Equal(t, int64(2), stats.TotalWrites)
		assert.Equal(t, int64(3), stats.TotalPayloads)
	})

	t.Run("checkpointer round trip", func(t *testing.T) {
		cp, err := NewCheckpointer(ctx, uri, logger)
		require.NoError(t, err)
		t.Cleanup(func() { cp.Close(ctx) })

		loaded, err := cp.Load(ctx, "historical")
		require.NoError(t, err)
		assert.Nil(t, loaded)

		status := importer.Status{
			RunID: "historical",
			Job:   importer.Historical.Label,
			State: importer.RunState{
				CurrentPage:            7,
				TotalImported:          700,
				CurrentEntityTypeIndex: 1,
				EntityTypes:            []string{"Product", "Item"},
				RetryCount:             2,
			},
			Phase: importer.StateAwaitingRetry,
		}
		require.NoError(t, cp.Save(ctx, &importer.Checkpoint{
			RunID:     "historical",
			Status:    status,
			Timestamp: time.Now().UTC(),
		}))

		status.State.CurrentPage = 8
		require.NoError(t, cp.Save(ctx, &importer.Checkpoint{
			RunID:     "historical",
			Status:    status,
			Timestamp: time.Now().UTC(),
		}))

		loaded, err = cp.Load(ctx, "historical")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, status.State, loaded.Status.State)
		assert.Equal(t, importer.StateAwaitingRetry, loaded.Status.Phase)

		require.NoError(t, cp.Delete(ctx, "historical"))
		loaded, err = cp.Load(ctx, "historical")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})
}
