package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"laundry-reservation-backend/config"
	"laundry-reservation-backend/internal/model"
)

func TestNewResyncerWithoutScheduleIsNoop(t *testing.T) {
	r, err := NewResyncer("", newTestDB(t), NewCatalog(config.DefaultCatalog()), zap.NewNop())
	require.NoError(t, err)

	// Start and Stop are safe without a schedule.
	r.Start()
	r.Stop()
}

func TestNewResyncerRejectsBadSpec(t *testing.T) {
	_, err := NewResyncer("not a cron spec", newTestDB(t), NewCatalog(config.DefaultCatalog()), zap.NewNop())
	assert.Error(t, err)
}

func TestResyncerRunsScheduledSync(t *testing.T) {
	db := newTestDB(t)
	catalog := NewCatalog([]config.DeviceEntry{
		{ID: 1, Name: "Washer 1", Category: "washer", HourlyRate: 1.20},
	})

	r, err := NewResyncer("@every 50ms", db, catalog, zap.NewNop())
	require.NoError(t, err)
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		var count int64
		if err := db.Model(&model.Device{}).Count(&count).Error; err != nil {
			return false
		}
		return count == 1
	}, 2*time.Second, 20*time.Millisecond)
}
