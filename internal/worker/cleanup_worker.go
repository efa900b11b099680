package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/innovotech/mediadrop/internal/client"
	"github.com/innovotech/mediadrop/internal/metrics"
	"github.com/innovotech/mediadrop/internal/model"
)

// CleanupWorker deletes transient blobs once their grace delay has passed
type CleanupWorker struct {
	blobs   client.BlobStore
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewCleanupWorker creates a new cleanup worker
func NewCleanupWorker(blobs client.BlobStore, m *metrics.Metrics, log zerolog.Logger) *CleanupWorker {
	return &CleanupWorker{
		blobs:   blobs,
		metrics: m,
		log:     log.With().Str("component", "cleanup").Logger(),
	}
}

// ProcessTask handles cleanup task processing. Deletion is best-effort, so
// it never reports an error back to asynq.
func (w *CleanupWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.CleanupTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		w.log.Warn().Err(err).Msg("dropping malformed cleanup task")
		return nil
	}

	w.Reap(ctx, payload)
	return nil
}

// Reap deletes the blob behind payload and swallows any failure.
func (w *CleanupWorker) Reap(ctx context.Context, payload model.CleanupTaskPayload) {
	log := w.log.With().
		Str("requestId", payload.RequestID).
		Str("artifact", string(payload.Artifact)).
		Str("blob", payload.BlobURL).
		Logger()

	if payload.BlobURL == "" {
		log.Warn().Msg("cleanup task without blob url")
		return
	}

	if err := w.blobs.Delete(ctx, payload.BlobURL); err != nil {
		w.metrics.IncCleanup("failed")
		log.Warn().Err(err).Msg("blob cleanup failed")
		return
	}

	w.metrics.IncCleanup("deleted")
	if !payload.ScheduledAt.IsZero() {
		log = log.With().Dur("after", time.Since(payload.ScheduledAt)).Logger()
	}
	log.Debug().Msg("blob deleted")
}
