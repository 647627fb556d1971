package reservation

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"laundry-reservation-backend/config"
	"laundry-reservation-backend/internal/registry"
	"laundry-reservation-backend/internal/txlog"
)

func newMockEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	engine := NewEngine(db, registry.NewCatalog(config.DefaultCatalog()),
		txlog.NewRecorder(zap.NewNop()), zap.NewNop())
	return engine, mock
}

func TestStartSurfacesDatabaseFailure(t *testing.T) {
	engine, mock := newMockEngine(t)
	mock.ExpectBegin().WillReturnError(assert.AnError)

	_, err := engine.Start(context.Background(), 1, 1, 60)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeviceBusy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStopSurfacesDatabaseFailure(t *testing.T) {
	engine, mock := newMockEngine(t)
	mock.ExpectBegin().WillReturnError(assert.AnError)

	_, err := engine.Stop(context.Background(), 1, 1, false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}
