package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/pkg/importer"
)

const createTable = `
CREATE TABLE IF NOT EXISTS pimsync_checkpoints (
	run_id     TEXT PRIMARY KEY,
	status     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const upsertCheckpoint = `
INSERT INTO pimsync_checkpoints (run_id, status, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO UPDATE
SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

// Checkpointer persists run status in a postgres table.
type Checkpointer struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewCheckpointer connects and creates the checkpoint table if needed.
func NewCheckpointer(ctx context.Context, uri *url.URL, logger *zap.Logger) (*Checkpointer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, uri.String())
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTable); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Postgres checkpointer connected",
		zap.String("database", uri.Path))

	return &Checkpointer{
		pool:   pool,
		logger: logger,
	}, nil
}

func (c *Checkpointer) Load(ctx context.Context, runID string) (*importer.Checkpoint, error) {
	var raw []byte
	var updatedAt time.Time

	err := c.pool.QueryRow(ctx,
		"SELECT status, updated_at FROM pimsync_checkpoints WHERE run_id = $1",
		runID,
	).Scan(&raw, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		c.logger.Info("No checkpoint found", zap.String("run_id", runID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var status importer.Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, err
	}

	return &importer.Checkpoint{
		RunID:     runID,
		Status:    status,
		Timestamp: updatedAt,
	}, nil
}

func (c *Checkpointer) Save(ctx context.Context, checkpoint *importer.Checkpoint) error {
	raw, err := json.Marshal(checkpoint.Status)
	if err != nil {
		return err
	}

	if _, err := c.pool.Exec(ctx, upsertCheckpoint, checkpoint.RunID, raw, checkpoint.Timestamp); err != nil {
		return err
	}

	c.logger.Debug("Checkpoint saved", zap.String("run_id", checkpoint.RunID))
	return nil
}

func (c *Checkpointer) Delete(ctx context.Context, runID string) error {
	if _, err := c.pool.Exec(ctx, "DELETE FROM pimsync_checkpoints WHERE run_id = $1", runID); err != nil {
		return err
	}
	c.logger.Info("Checkpoint deleted", zap.String("run_id", runID))
	return nil
}

func (c *Checkpointer) Close() {
	c.pool.Close()
}
