package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuihairu/abmetrics/internal/objstore"
)

type memQueue struct {
	mu   sync.Mutex
	keys []string
	fail error
}

func (q *memQueue) PublishReport(_ context.Context, key string, _ []byte) error {
	if q.fail != nil {
		return q.fail
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys = append(q.keys, key)
	return nil
}

func (q *memQueue) Close() error { return nil }

func testRun(t *testing.T) *Run {
	return &Run{ID: "run-1", FinishedAt: renderAt, Results: []Result{revenueResult(t)}}
}

func TestPublishToAllSinks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := objstore.Open(ctx, objstore.Config{Driver: "file", BaseDir: filepath.Join(dir, "bucket")})
	require.NoError(t, err)
	defer store.Close()
	q := &memQueue{}

	pub := &Publisher{Format: FormatCSV, Sinks: []Sink{
		DirSink{Dir: filepath.Join(dir, "out")},
		StoreSink{Store: store, Prefix: "reports"},
		QueueSink{Queue: q},
	}}
	arts, err := pub.Publish(ctx, testRun(t))
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "revenue_20190201_093000.csv", arts[0].Filename())

	_, err = os.Stat(filepath.Join(dir, "out", "revenue_20190201_093000.csv"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "bucket", "reports", "run-1", "revenue.csv"))
	require.NoError(t, err)
	assert.Equal(t, arts[0].Body, b)
	assert.Equal(t, []string{"run-1/revenue"}, q.keys)
}

func TestPublishCollectsSinkErrors(t *testing.T) {
	boom := errors.New("broker down")
	dir := t.TempDir()
	pub := &Publisher{Format: FormatJSON, Sinks: []Sink{QueueSink{Queue: &memQueue{fail: boom}}, DirSink{Dir: dir}}}
	_, err := pub.Publish(context.Background(), testRun(t))
	require.ErrorIs(t, err, boom)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
