package importer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Notification is an operator facing message about the outcome of a run.
type Notification struct {
	RunID        string    `json:"run_id"`
	InvocationID string    `json:"invocation_id"`
	Activity     string    `json:"activity"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	Total        int       `json:"total_imported"`
	At           time.Time `json:"at"`
}

type Notifier interface {
	Success(ctx context.Context, n Notification) error
	Failure(ctx context.Context, n Notification) error
}

type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Success(ctx context.Context, n Notification) error {
	l.logger.Info(n.Title,
		zap.String("activity", n.Activity),
		zap.String("summary", n.Summary),
		zap.String("run_id", n.RunID),
		zap.Int("total_imported", n.Total),
	)
	return nil
}

func (l *LogNotifier) Failure(ctx context.Context, n Notification) error {
	l.logger.Error(n.Title,
		zap.String("activity", n.Activity),
		zap.String("summary", n.Summary),
		zap.String("run_id", n.RunID),
		zap.Int("total_imported", n.Total),
	)
	return nil
}
