package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"laundry-reservation-backend/config"
	"laundry-reservation-backend/internal/model"
)

// Catalog is the static device catalog: the seed of truth for device identity
// and pricing. Device ids form a closed set; anything outside it is rejected
// before any state access.
type Catalog struct {
	entries map[int64]config.DeviceEntry
	ordered []config.DeviceEntry
	minID   int64
	maxID   int64
}

// NewCatalog builds a catalog from the configured device entries.
func NewCatalog(entries []config.DeviceEntry) *Catalog {
	c := &Catalog{
		entries: make(map[int64]config.DeviceEntry, len(entries)),
		ordered: make([]config.DeviceEntry, 0, len(entries)),
	}
	for _, e := range entries {
		if _, dup := c.entries[e.ID]; dup {
			continue
		}
		c.entries[e.ID] = e
		c.ordered = append(c.ordered, e)
		if c.minID == 0 || e.ID < c.minID {
			c.minID = e.ID
		}
		if e.ID > c.maxID {
			c.maxID = e.ID
		}
	}
	return c
}

// InRange reports whether the id falls inside the closed id range spanned by
// the catalog. An id can be in range yet have no entry (a configuration gap).
func (c *Catalog) InRange(id int64) bool {
	return id >= c.minID && id <= c.maxID
}

// Contains reports whether the id belongs to the catalog.
func (c *Catalog) Contains(id int64) bool {
	_, ok := c.entries[id]
	return ok
}

// Lookup returns the catalog entry for the id.
func (c *Catalog) Lookup(id int64) (config.DeviceEntry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Entries returns the catalog entries in configuration order.
func (c *Catalog) Entries() []config.DeviceEntry {
	return c.ordered
}

// Sync reconciles the device table with the catalog: catalog entries are
// created or updated (descriptive and pricing fields only), rows absent from
// the catalog are deleted. Occupant, lease expiry and the lease rate snapshot
// are never touched, so a resync cannot interrupt a running reservation.
func Sync(ctx context.Context, db *gorm.DB, c *Catalog, logger *zap.Logger) error {
	entries := c.Entries()
	if len(entries) == 0 {
		return fmt.Errorf("registry sync: empty catalog")
	}

	devices := make([]model.Device, 0, len(entries))
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		devices = append(devices, model.Device{
			ID:         e.ID,
			Name:       e.Name,
			Category:   e.Category,
			HourlyRate: e.HourlyRate,
		})
		ids = append(ids, e.ID)
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "category", "hourly_rate", "updated_at"}),
		}).Create(&devices).Error; err != nil {
			return fmt.Errorf("upsert catalog devices: %w", err)
		}

		if err := tx.Where("id NOT IN ?", ids).Delete(&model.Device{}).Error; err != nil {
			return fmt.Errorf("delete devices absent from catalog: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("device registry synced", zap.Int("devices", len(devices)))
	return nil
}
