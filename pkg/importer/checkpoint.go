package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type Checkpointer interface {
	// Load the last checkpoint for a run. A nil checkpoint means none exists.
	Load(ctx context.Context, runID string) (*Checkpoint, error)

	// Save a checkpoint
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Delete checkpoint data for a run
	Delete(ctx context.Context, runID string) error
}

type NoopCheckpointer struct{}

func (n *NoopCheckpointer) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	return nil, nil
}
func (n *NoopCheckpointer) Save(ctx context.Context, checkpoint *Checkpoint) error {
	return nil
}
func (n *NoopCheckpointer) Delete(ctx context.Context, runID string) error {
	return nil
}

// MemoryCheckpointer keeps checkpoints in process. Used by tests and dry runs.
type MemoryCheckpointer struct {
	mu          sync.Mutex
	checkpoints map[string]Checkpoint
	saves       int
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{checkpoints: make(map[string]Checkpoint)}
}

func (m *MemoryCheckpointer) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[runID]
	if !ok {
		return nil, nil
	}
	cp.Status.State.EntityTypes = append([]string{}, cp.Status.State.EntityTypes...)
	return &cp, nil
}

func (m *MemoryCheckpointer) Save(ctx context.Context, checkpoint *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *checkpoint
	cp.Status.State.EntityTypes = append([]string{}, checkpoint.Status.State.EntityTypes...)
	m.checkpoints[checkpoint.RunID] = cp
	m.saves++
	return nil
}

func (m *MemoryCheckpointer) Delete(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, runID)
	return nil
}

// Saves returns how many checkpoints have been written.
func (m *MemoryCheckpointer) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Filesystem-based checkpointer
type FilesystemCheckpointer struct {
	baseDir string
	logger  *zap.Logger
	mu      sync.Mutex
}

func NewFilesystemCheckpointer(baseDir string, logger *zap.Logger) *FilesystemCheckpointer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilesystemCheckpointer{
		baseDir: baseDir,
		logger:  logger,
	}
}

func (f *FilesystemCheckpointer) path(runID string) string {
	return filepath.Join(f.baseDir, runID+".checkpoint")
}

func (f *FilesystemCheckpointer) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(runID))
	if os.IsNotExist(err) {
		f.logger.Info("No checkpoint found", zap.String("run_id", runID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, err
	}

	f.logger.Info("Checkpoint loaded",
		zap.String("run_id", runID),
		zap.Time("timestamp", checkpoint.Timestamp),
	)

	return &checkpoint, nil
}

func (f *FilesystemCheckpointer) Save(ctx context.Context, checkpoint *Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.baseDir, 0755); err != nil {
		return err
	}

	checkpointPath := f.path(checkpoint.RunID)
	tempPath := checkpointPath + ".tmp"

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return err
	}

	if err := writeSynced(tempPath, data); err != nil {
		os.Remove(tempPath)
		return err
	}

	// Atomic rename
	if err := os.Rename(tempPath, checkpointPath); err != nil {
		os.Remove(tempPath)
		return err
	}

	f.logger.Debug("Checkpoint saved",
		zap.String("run_id", checkpoint.RunID),
		zap.Time("timestamp", checkpoint.Timestamp),
	)

	return nil
}

func (f *FilesystemCheckpointer) Delete(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(runID)); err != nil && !os.IsNotExist(err) {
		return err
	}

	f.logger.Info("Checkpoint deleted", zap.String("run_id", runID))
	return nil
}

// writeSynced writes data and fsyncs it before returning.
func writeSynced(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	return file.Close()
}
