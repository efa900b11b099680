package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovotech/mediadrop/internal/client"
	"github.com/innovotech/mediadrop/internal/metrics"
	"github.com/innovotech/mediadrop/internal/model"
	"github.com/innovotech/mediadrop/internal/service"
)

type deleteRecorder struct {
	err error

	mu      sync.Mutex
	deleted []string
}

func (d *deleteRecorder) Put(ctx context.Context, name string, data []byte, opts client.PutOptions) (string, error) {
	return "", nil
}

func (d *deleteRecorder) Delete(ctx context.Context, blobURL string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, blobURL)
	return d.err
}

func (d *deleteRecorder) List(ctx context.Context, prefix string) ([]client.BlobInfo, error) {
	return nil, nil
}

func (d *deleteRecorder) Get(ctx context.Context, name string) ([]byte, error) {
	return nil, client.ErrBlobNotFound
}

func (d *deleteRecorder) urls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deleted...)
}

func newWorker(blobs client.BlobStore) *CleanupWorker {
	return NewCleanupWorker(blobs, metrics.MustNewMetrics(prometheus.NewRegistry()), zerolog.Nop())
}

func TestCleanupWorker_ProcessTask(t *testing.T) {
	blobs := &deleteRecorder{}
	task, err := service.NewCleanupTask(model.CleanupTaskPayload{
		BlobURL:     "https://blob.test/song_1.mp3",
		RequestID:   "req-1",
		Artifact:    model.ArtifactMusic,
		ScheduledAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.TaskTypeBlobCleanup, task.Type())

	require.NoError(t, newWorker(blobs).ProcessTask(context.Background(), task))
	assert.Equal(t, []string{"https://blob.test/song_1.mp3"}, blobs.urls())
}

func TestCleanupWorker_SwallowsErrors(t *testing.T) {
	blobs := &deleteRecorder{err: errors.New("access denied")}
	w := newWorker(blobs)

	task, err := service.NewCleanupTask(model.CleanupTaskPayload{BlobURL: "https://blob.test/a.png"})
	require.NoError(t, err)
	assert.NoError(t, w.ProcessTask(context.Background(), task))

	malformed := asynq.NewTask(model.TaskTypeBlobCleanup, []byte("{not json"))
	assert.NoError(t, w.ProcessTask(context.Background(), malformed))

	assert.Equal(t, []string{"https://blob.test/a.png"}, blobs.urls())
}

func TestTimerCleanupScheduler_DeletesAfterDelay(t *testing.T) {
	blobs := &deleteRecorder{}
	sched := service.NewTimerCleanupScheduler(newWorker(blobs), zerolog.Nop())

	start := time.Now()
	err := sched.Schedule(context.Background(), model.CleanupTaskPayload{BlobURL: "https://blob.test/x.png"}, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, blobs.urls())

	sched.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, []string{"https://blob.test/x.png"}, blobs.urls())
}
