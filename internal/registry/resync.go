package registry

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resyncer re-runs the catalog sync on a cron schedule. The startup sync is
// mandatory; the scheduled resync is optional and only refreshes descriptive
// and pricing fields.
type Resyncer struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewResyncer schedules Sync according to spec (standard 5-field cron
// expression). An empty spec returns a Resyncer that does nothing.
func NewResyncer(spec string, db *gorm.DB, c *Catalog, logger *zap.Logger) (*Resyncer, error) {
	r := &Resyncer{logger: logger}
	if spec == "" {
		return r, nil
	}

	r.cron = cron.New()
	_, err := r.cron.AddFunc(spec, func() {
		if err := Sync(context.Background(), db, c, logger); err != nil {
			logger.Error("scheduled registry resync failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the schedule, if one was configured.
func (r *Resyncer) Start() {
	if r.cron != nil {
		r.cron.Start()
	}
}

// Stop halts the schedule and waits for a running sync to finish.
func (r *Resyncer) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}
