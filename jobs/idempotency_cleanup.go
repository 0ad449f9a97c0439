package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian/internal/shared"
)

// IdempotencyCleanupJob prunes idempotency keys past their retention window.
type IdempotencyCleanupJob struct {
	Store  *shared.IdempotencyStore
	Logger *slog.Logger
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, logger *slog.Logger) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger}
}

// Handle executes one retention sweep.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionHours <= 0 {
		payload.RetentionHours = 48
	}
	if err := j.Store.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour); err != nil {
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("idempotency cleanup complete", slog.Int("retention_hours", payload.RetentionHours))
	}
	return nil
}
