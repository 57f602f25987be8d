package mongo

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DefaultDatabase = "pimsync"

var ErrNotConnected = errors.New("mongo sink is not connected")

// databaseName returns the database named by the URI path.
func databaseName(uri *url.URL) string {
	if db := strings.Trim(uri.Path, "/"); db != "" {
		return db
	}
	return DefaultDatabase
}

func connect(ctx context.Context, uri *url.URL) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri.String()))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}
