package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeLowStockScan is the task type for the low stock sweep.
	TaskTypeLowStockScan = "stock:lowstock_scan"
	// TaskTypeIdempotencyCleanup is the task type for pruning old idempotency keys.
	TaskTypeIdempotencyCleanup = "shared:idempotency_cleanup"
)

// LowStockScanPayload configures one sweep over the product catalog.
type LowStockScanPayload struct {
	// Limit caps how many products one sweep inspects. Zero scans everything.
	Limit int `json:"limit"`
}

// NewLowStockScanTask constructs an Asynq task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStockScan, data), nil
}

// IdempotencyCleanupPayload configures the retention sweep.
type IdempotencyCleanupPayload struct {
	// RetentionHours controls how old a key must be before removal.
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, data), nil
}
