package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aquaflow/internal/models"
	"aquaflow/internal/sampler"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SamplerSettingsRepository user_sampler_settings table
//
//	user_id        BIGINT PRIMARY KEY
//	username       TEXT
//	interval_ms    BIGINT
//	all_sensors    BOOLEAN   -- filter "all"
//	categories     TEXT[]    -- buckets selected with "all"
//	sensor_filter  JSONB     -- bucket -> explicit sensor ids
//	enabled        BOOLEAN
//	updated_at     TIMESTAMPTZ
type SamplerSettingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSamplerSettingsRepository creates the settings repository
func NewSamplerSettingsRepository(db *sql.DB, logger *zap.Logger) *SamplerSettingsRepository {
	return &SamplerSettingsRepository{
		db:     db,
		logger: logger,
	}
}

// Save upserts the settings of one user
func (r *SamplerSettingsRepository) Save(ctx context.Context, s models.SamplerSettings) error {
	categories, explicit := splitFilter(s.Filter)
	filterJSON, err := json.Marshal(explicit)
	if err != nil {
		return fmt.Errorf("failed to encode sensor filter: %w", err)
	}

	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO user_sampler_settings
			(user_id, username, interval_ms, all_sensors, categories, sensor_filter, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			interval_ms = EXCLUDED.interval_ms,
			all_sensors = EXCLUDED.all_sensors,
			categories = EXCLUDED.categories,
			sensor_filter = EXCLUDED.sensor_filter,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		s.UserID,
		s.Username,
		s.Interval.Milliseconds(),
		s.Filter.All,
		pq.Array(categories),
		filterJSON,
		s.Enabled,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sampler settings for user %d: %w", s.UserID, err)
	}
	return nil
}

// Disable marks the user's sampler as stopped, keeping its last configuration
func (r *SamplerSettingsRepository) Disable(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_sampler_settings SET enabled = FALSE, updated_at = $2 WHERE user_id = $1`,
		userID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to disable sampler settings for user %d: %w", userID, err)
	}
	return nil
}

// ListEnabled returns every enabled sampler ordered by user
func (r *SamplerSettingsRepository) ListEnabled(ctx context.Context) ([]models.SamplerSettings, error) {
	query := `
		SELECT user_id, username, interval_ms, all_sensors, categories, sensor_filter, enabled, updated_at
		FROM user_sampler_settings
		WHERE enabled = TRUE
		ORDER BY user_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query user_sampler_settings: %w", err)
	}
	defer rows.Close()

	var out []models.SamplerSettings
	for rows.Next() {
		var (
			s          models.SamplerSettings
			username   sql.NullString
			intervalMS int64
			allSensors bool
			categories []string
			filterJSON []byte
		)
		if err := rows.Scan(
			&s.UserID,
			&username,
			&intervalMS,
			&allSensors,
			pq.Array(&categories),
			&filterJSON,
			&s.Enabled,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sampler settings: %w", err)
		}

		filter, err := joinFilter(allSensors, categories, filterJSON)
		if err != nil {
			r.logger.Warn("Skipping sampler settings with unreadable filter",
				zap.Int64("user_id", s.UserID),
				zap.Error(err),
			)
			continue
		}
		interval, err := sampler.IntervalFromMillis(intervalMS)
		if err != nil {
			r.logger.Warn("Skipping sampler settings with invalid interval",
				zap.Int64("user_id", s.UserID),
				zap.Error(err),
			)
			continue
		}
		s.Username = username.String
		s.Interval = interval
		s.Filter = filter
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sampler settings: %w", err)
	}
	return out, nil
}

// splitFilter separates whole-category selections from explicit id lists
func splitFilter(f models.CategoryFilter) ([]string, map[models.Bucket][]string) {
	categories := []string{}
	explicit := map[models.Bucket][]string{}
	if f.All {
		return categories, explicit
	}
	for _, b := range f.Buckets() {
		sel := f.Categories[b]
		if sel.All {
			categories = append(categories, string(b))
			continue
		}
		explicit[b] = sel.SensorIDs
	}
	return categories, explicit
}

func joinFilter(all bool, categories []string, filterJSON []byte) (models.CategoryFilter, error) {
	if all {
		return models.AllSensorsFilter(), nil
	}

	f := models.CategoryFilter{Categories: map[models.Bucket]models.SensorSelection{}}
	for _, c := range categories {
		b := models.Bucket(c)
		if !b.Valid() {
			return models.CategoryFilter{}, fmt.Errorf("unknown category %q", c)
		}
		f.Categories[b] = models.SensorSelection{All: true}
	}

	if len(filterJSON) > 0 {
		var explicit map[models.Bucket][]string
		if err := json.Unmarshal(filterJSON, &explicit); err != nil {
			return models.CategoryFilter{}, fmt.Errorf("decode sensor_filter: %w", err)
		}
		for b, ids := range explicit {
			if !b.Valid() {
				return models.CategoryFilter{}, fmt.Errorf("unknown category %q", b)
			}
			if _, whole := f.Categories[b]; whole || len(ids) == 0 {
				continue
			}
			f.Categories[b] = models.SensorSelection{SensorIDs: ids}
		}
	}
	return f, nil
}
