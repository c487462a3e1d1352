package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"aquaflow/internal/models"

	"go.uber.org/zap"
)

// maxRowsPerInsert keeps one statement under the Postgres bind parameter limit
const maxRowsPerInsert = 1000

const sampleColumns = 7

// SampleRepository durable store of sampler ticks (sensor_samples)
type SampleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSampleRepository creates the sample repository
func NewSampleRepository(db *sql.DB, logger *zap.Logger) *SampleRepository {
	return &SampleRepository{
		db:     db,
		logger: logger,
	}
}

// WriteBatch writes one tick in a single transaction and returns the number of rows stored.
// Every row carries the same tick timestamp.
func (r *SampleRepository) WriteBatch(ctx context.Context, readings []models.SampledReading, userID int64, tickAt time.Time) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin sample transaction: %w", err)
	}
	defer tx.Rollback()

	written := 0
	for start := 0; start < len(readings); start += maxRowsPerInsert {
		end := start + maxRowsPerInsert
		if end > len(readings) {
			end = len(readings)
		}

		query, args := buildSampleInsert(readings[start:end], userID, tickAt)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert sensor_samples: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
		written += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sample transaction: %w", err)
	}

	r.logger.Debug("Wrote sample batch",
		zap.Int64("user_id", userID),
		zap.Int("rows", written),
		zap.Time("sampled_at", tickAt),
	)
	return written, nil
}

func buildSampleInsert(rows []models.SampledReading, userID int64, tickAt time.Time) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO sensor_samples (tick_id, user_id, category, sensor_id, value, received_at, sampled_at) VALUES `)

	args := make([]any, 0, len(rows)*sampleColumns)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * sampleColumns
		b.WriteString("(")
		for c := 1; c <= sampleColumns; c++ {
			if c > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", base+c)
		}
		b.WriteString(")")

		args = append(args,
			row.TickID,
			userID,
			string(row.Category),
			row.SensorID,
			row.Value,
			row.ReceivedAt,
			tickAt,
		)
	}
	return b.String(), args
}
