package model

import "time"

// Device represents a shared laundry machine and its current lease.
//
// OccupantID, LeaseExpiry and LeaseRate are null and non-null together: all
// three set means the device is reserved, all three null means it is idle.
// LeaseRate is the hourly rate snapshotted when the reservation started, so a
// later catalog resync cannot change the refund owed for a running session.
type Device struct {
	ID          int64   `gorm:"primaryKey"`
	Name        string  `gorm:"size:255;not null"`
	Category    string  `gorm:"size:50;not null"`
	HourlyRate  float64 `gorm:"not null"`
	OccupantID  *int64  `gorm:"index"`
	LeaseExpiry *time.Time
	LeaseRate   *float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reserved reports whether the device holds a lease, regardless of whether
// that lease has already expired.
func (d *Device) Reserved() bool {
	return d.LeaseExpiry != nil
}

// ClearLease resets the device to the idle state.
func (d *Device) ClearLease() {
	d.OccupantID = nil
	d.LeaseExpiry = nil
	d.LeaseRate = nil
}
