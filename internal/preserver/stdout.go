package preserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/pkg/transform"
)

// Stdout is a dry run sink. It prints each payload as a JSON line and
// writes nothing to the destination.
type Stdout struct {
	logger *zap.Logger

	mu  sync.Mutex
	out io.Writer
}

func NewStdout(logger *zap.Logger) *Stdout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stdout{logger: logger, out: os.Stdout}
}

func (s *Stdout) Write(ctx context.Context, objectType string, payloads []transform.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Dry run, not sending records",
		zap.String("object_type", objectType),
		zap.Int("count", len(payloads)))

	enc := json.NewEncoder(s.out)
	for _, p := range payloads {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("encoding payload %s: %w", p.ProductID, err)
		}
	}
	return nil
}
