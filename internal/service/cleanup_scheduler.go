package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/innovotech/mediadrop/internal/model"
)

// QueueCleanup is the asynq queue blob deletions are enqueued on.
const QueueCleanup = "cleanup"

// AsynqCleanupScheduler defers blob deletion through an asynq delayed task.
type AsynqCleanupScheduler struct {
	asynqClient *asynq.Client
}

func NewAsynqCleanupScheduler(asynqClient *asynq.Client) *AsynqCleanupScheduler {
	return &AsynqCleanupScheduler{asynqClient: asynqClient}
}

// Schedule enqueues a cleanup task that becomes runnable after delay.
// Deletion is best-effort, so the task is never retried.
func (s *AsynqCleanupScheduler) Schedule(ctx context.Context, payload model.CleanupTaskPayload, delay time.Duration) error {
	task, err := NewCleanupTask(payload)
	if err != nil {
		return err
	}

	_, err = s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(QueueCleanup),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue cleanup: %w", err)
	}
	return nil
}

// NewCleanupTask builds the asynq task for payload.
func NewCleanupTask(payload model.CleanupTaskPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cleanup payload: %w", err)
	}
	return asynq.NewTask(model.TaskTypeBlobCleanup, data), nil
}

// Reaper deletes the blob a cleanup task points at.
type Reaper interface {
	Reap(ctx context.Context, payload model.CleanupTaskPayload)
}

// TimerCleanupScheduler defers blob deletion with an in-process timer. It is
// used when no Redis is available; pending deletions are lost on restart.
type TimerCleanupScheduler struct {
	reaper Reaper
	log    zerolog.Logger
	wg     sync.WaitGroup
}

func NewTimerCleanupScheduler(reaper Reaper, log zerolog.Logger) *TimerCleanupScheduler {
	return &TimerCleanupScheduler{reaper: reaper, log: log}
}

func (s *TimerCleanupScheduler) Schedule(ctx context.Context, payload model.CleanupTaskPayload, delay time.Duration) error {
	s.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.reaper.Reap(ctx, payload)
	})
	s.log.Debug().Str("blob", payload.BlobURL).Dur("delay", delay).Msg("cleanup scheduled")
	return nil
}

// Wait blocks until every scheduled deletion has run.
func (s *TimerCleanupScheduler) Wait() {
	s.wg.Wait()
}
