package importer

import (
	"context"
	"fmt"

	"github.com/turbolytics/pimsync/pkg/inriver"
	"github.com/turbolytics/pimsync/pkg/transform"
)

// Source pages through the entities of one type in the configured channel.
// An empty page means the type is exhausted.
type Source interface {
	GetChannelEntities(ctx context.Context, entityTypeID string, pageSize, pageIndex int) ([]inriver.EntityData, error)
}

// Sink writes a batch of payloads to the destination object store. A nil
// error means every payload in the batch was accepted.
type Sink interface {
	Write(ctx context.Context, objectType string, payloads []transform.Payload) error
}

type SinkWriteError struct {
	ObjectType string
	Count      int
	Err        error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("writing %d %s payloads: %v", e.Count, e.ObjectType, e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}

// SinkStatsReporter is implemented by sinks that track their own writes.
type SinkStatsReporter interface {
	Stats() SinkStats
}
