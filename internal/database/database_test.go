package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"storefront/internal/config"
	"storefront/internal/model"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db, mock
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  logger.LogLevel
	}{
		{"debug", logger.Info},
		{"info", logger.Warn},
		{"warn", logger.Error},
		{"error", logger.Error},
		{"", logger.Warn},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, getLogLevel(tt.level), tt.level)
	}
}

func TestConfigurePool(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	configurePool(sqlDB, config.DatabaseConfig{
		MaxOpenConns:    7,
		MaxIdleConns:    3,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Second,
	})
	assert.Equal(t, 7, sqlDB.Stats().MaxOpenConnections)
}

func TestGormConfig(t *testing.T) {
	cfg := gormConfig(config.DatabaseConfig{SlowThreshold: time.Second}, "debug")
	assert.True(t, cfg.DisableForeignKeyConstraintWhenMigrating)
	assert.NotNil(t, cfg.Logger)
	assert.Equal(t, time.Local, cfg.NowFunc().Location())
}

func TestHealth(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectPing()
		assert.NoError(t, Health(context.Background(), db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unreachable", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		assert.Error(t, Health(context.Background(), db))
	})

	t.Run("NotInitialized", func(t *testing.T) {
		assert.Error(t, Health(context.Background(), nil))
	})
}

func TestClose(t *testing.T) {
	assert.NoError(t, Close(nil))

	db, mock := setupMockDB(t)
	mock.ExpectClose()
	assert.NoError(t, Close(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModels(t *testing.T) {
	models := Models()
	require.Len(t, models, 5)
	assert.IsType(t, &model.Purchase{}, models[3])
	assert.IsType(t, &model.PurchaseLine{}, models[4])
}
