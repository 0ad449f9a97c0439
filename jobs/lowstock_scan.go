package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LowStockScanJob sweeps the catalog and records an alert for every product
// at or below its threshold. Alerts are deduplicated per product per day.
type LowStockScanJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
	clock  func() time.Time
}

// NewLowStockScanJob initialises the low stock scan handler.
func NewLowStockScanJob(pool *pgxpool.Pool, logger *slog.Logger) *LowStockScanJob {
	return &LowStockScanJob{
		Pool:   pool,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("lowstock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.clock()
	query := `SELECT id, quantity, low_stock_threshold FROM products
WHERE low_stock_threshold > 0 AND quantity <= low_stock_threshold ORDER BY id`
	args := []any{}
	if payload.Limit > 0 {
		query += ` LIMIT $1`
		args = append(args, payload.Limit)
	}
	rows, err := j.Pool.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	type hit struct {
		id        int64
		quantity  int64
		threshold int64
	}
	hits := []hit{}
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.quantity, &h.threshold); err != nil {
			return err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	inserted := 0
	for _, h := range hits {
		tag, err := j.Pool.Exec(ctx, `INSERT INTO low_stock_alerts (product_id, quantity, threshold, alert_date)
VALUES ($1, $2, $3, CURRENT_DATE) ON CONFLICT (product_id, alert_date) DO NOTHING`, h.id, h.quantity, h.threshold)
		if err != nil {
			return err
		}
		inserted += int(tag.RowsAffected())
	}

	if j.Logger != nil {
		j.Logger.Info("lowstock scan complete",
			slog.Int("below_threshold", len(hits)),
			slog.Int("new_alerts", inserted),
			slog.Duration("took", j.clock().Sub(start)),
		)
	}
	return nil
}
