package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/pimsync/internal/local"
	"github.com/turbolytics/pimsync/pkg/transform"
)

func TestNew_RequiresRepository(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}

func TestSink_WriteLocal(t *testing.T) {
	dir := t.TempDir()
	repo := local.New(dir, local.WithPrefix("run-1"))

	s, err := New(WithRepository(repo))
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 2, 3, 23, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, transform.DefaultObjectType, nil), "empty batches are skipped")

	batch := []transform.Payload{
		{ProductID: "1", EntityType: "Product"},
		{ProductID: "2", EntityType: "Product"},
	}
	require.NoError(t, s.Write(ctx, transform.DefaultObjectType, batch))
	require.NoError(t, s.Write(ctx, transform.DefaultObjectType, batch[:1]))

	files, err := filepath.Glob(filepath.Join(dir, "run-1", transform.DefaultObjectType, "dt=2024-02-03", "part-*.parquet"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.Equal(t, "PAR1", string(data[:4]))
	}

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.TotalWrites)
	assert.Equal(t, int64(3), stats.TotalPayloads)
	assert.Zero(t, stats.WriteErrorCount)
}
