package reservation

import (
	"math"
	"time"

	"laundry-reservation-backend/internal/model"
)

// DeviceState is the public projection of a device row. The same shape is
// serialized by the REST endpoints and by both live feeds.
type DeviceState struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Category   string     `json:"category"`
	HourlyRate float64    `json:"hourly_rate"`
	UserID     *int64     `json:"user_id"`
	EndTime    *time.Time `json:"end_time"`
	TimeLeft   int64      `json:"time_left"`
}

// Running reports whether the projected device held an unexpired lease.
func (s DeviceState) Running() bool {
	return s.EndTime != nil
}

// Project builds the public state of a device at the given instant. The
// device is expected to be normalized first, so an expired lease never leaks
// into a projection.
func Project(d *model.Device, now time.Time) DeviceState {
	s := DeviceState{
		ID:         d.ID,
		Name:       d.Name,
		Category:   d.Category,
		HourlyRate: d.HourlyRate,
		UserID:     d.OccupantID,
	}
	if d.LeaseExpiry != nil {
		end := d.LeaseExpiry.UTC()
		s.EndTime = &end
		if left := end.Sub(now); left > 0 {
			s.TimeLeft = int64(math.Round(left.Seconds()))
		}
	}
	return s
}

// IdleState is the projection of a device with no lease, used when pushing
// idle updates without re-reading the row.
func IdleState(d *model.Device) DeviceState {
	return DeviceState{
		ID:         d.ID,
		Name:       d.Name,
		Category:   d.Category,
		HourlyRate: d.HourlyRate,
	}
}

// Normalize applies lazy expiry: a lease whose expiry is at or before now is
// cleared in place. Returns true when the device transitioned to idle. Every
// read and mutate path applies this before looking at the lease, which is how
// expired leases become visible as idle without a background sweeper.
func Normalize(d *model.Device, now time.Time) bool {
	if d.LeaseExpiry == nil {
		return false
	}
	if d.LeaseExpiry.After(now) {
		return false
	}
	d.ClearLease()
	return true
}

// round2 rounds a monetary amount to two decimal places. Applied at the point
// of balance mutation, never earlier.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
