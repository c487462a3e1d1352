package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"aquaflow/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var settingsColumns = []string{"user_id", "username", "interval_ms", "all_sensors", "categories", "sensor_filter", "enabled", "updated_at"}

func setupSettingsRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SamplerSettingsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, NewSamplerSettingsRepository(db, zap.NewNop())
}

func TestSettingsSave(t *testing.T) {
	db, mock, repo := setupSettingsRepo(t)
	defer db.Close()

	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := models.SamplerSettings{
		UserID:   42,
		Username: "ops",
		Interval: 5 * time.Second,
		Filter: models.CategoryFilter{Categories: map[models.Bucket]models.SensorSelection{
			models.BucketTemperature: {All: true},
			models.BucketHumidity:    {SensorIDs: []string{"H1"}},
		}},
		Enabled:   true,
		UpdatedAt: updated,
	}

	mock.ExpectExec(`INSERT INTO user_sampler_settings`).
		WithArgs(int64(42), "ops", int64(5000), false, sqlmock.AnyArg(), []byte(`{"humidity":["H1"]}`), true, updated).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsSave_Error(t *testing.T) {
	db, mock, repo := setupSettingsRepo(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO user_sampler_settings`).WillReturnError(errors.New("boom"))

	err := repo.Save(context.Background(), models.SamplerSettings{UserID: 1, Filter: models.AllSensorsFilter()})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsDisable(t *testing.T) {
	db, mock, repo := setupSettingsRepo(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE user_sampler_settings SET enabled = FALSE`).
		WithArgs(int64(9), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Disable(context.Background(), 9))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsListEnabled(t *testing.T) {
	db, mock, repo := setupSettingsRepo(t)
	defer db.Close()

	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(settingsColumns).
		AddRow(int64(1), "alice", int64(1000), true, "{}", []byte(`{}`), true, updated).
		AddRow(int64(2), nil, int64(2500), false, "{temperature}", []byte(`{"humidity":["H1","H2"]}`), true, updated).
		AddRow(int64(3), "broken", int64(1000), false, "{pressure}", []byte(`{}`), true, updated).
		AddRow(int64(4), "huge", int64(288230376151712744), true, "{}", []byte(`{}`), true, updated).
		AddRow(int64(5), "zero", int64(0), true, "{}", []byte(`{}`), true, updated)

	mock.ExpectQuery(`SELECT user_id, username, interval_ms`).WillReturnRows(rows)

	got, err := repo.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2, "rows with an unreadable filter or interval are skipped")

	assert.Equal(t, int64(1), got[0].UserID)
	assert.Equal(t, "alice", got[0].Username)
	assert.Equal(t, time.Second, got[0].Interval)
	assert.True(t, got[0].Filter.All)

	assert.Equal(t, "", got[1].Username)
	assert.Equal(t, 2500*time.Millisecond, got[1].Interval)
	assert.True(t, got[1].Filter.Categories[models.BucketTemperature].All)
	assert.Equal(t, []string{"H1", "H2"}, got[1].Filter.Categories[models.BucketHumidity].SensorIDs)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitJoinFilter(t *testing.T) {
	f := models.CategoryFilter{Categories: map[models.Bucket]models.SensorSelection{
		models.BucketWaterLevel: {All: true},
		models.BucketGeneric:    {SensorIDs: []string{"S1"}},
	}}
	cats, explicit := splitFilter(f)
	assert.Equal(t, []string{"waterLevel"}, cats)
	assert.Equal(t, map[models.Bucket][]string{models.BucketGeneric: {"S1"}}, explicit)

	back, err := joinFilter(false, cats, []byte(`{"generic":["S1"]}`))
	require.NoError(t, err)
	assert.Equal(t, f, back)
}
