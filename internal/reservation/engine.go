package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"laundry-reservation-backend/internal/model"
	"laundry-reservation-backend/internal/registry"
	"laundry-reservation-backend/internal/txlog"
)

// IdleNotifier is told when a device transitions to idle, either by an
// explicit stop or by lazy expiry. Notifications fire after the surrounding
// database transaction has committed.
type IdleNotifier interface {
	NotifyIdle(state DeviceState)
}

// IdleNotifiers fans an idle transition out to several collaborators.
type IdleNotifiers []IdleNotifier

// NotifyIdle implements IdleNotifier.
func (ns IdleNotifiers) NotifyIdle(state DeviceState) {
	for _, n := range ns {
		n.NotifyIdle(state)
	}
}

// Engine is the reservation state machine: it decides whether a device can be
// started, debits and refunds balances, expires leases lazily, and reports
// device state. All mutation sequences run inside a single database
// transaction with the device row locked, so concurrent starts on the same
// device serialize and the second caller observes the first caller's lease.
type Engine struct {
	db       *gorm.DB
	catalog  *registry.Catalog
	recorder *txlog.Recorder
	logger   *zap.Logger
	notifier IdleNotifier
	now      func() time.Time
}

// NewEngine creates a reservation engine.
func NewEngine(db *gorm.DB, catalog *registry.Catalog, recorder *txlog.Recorder, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		catalog:  catalog,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// SetIdleNotifier wires the collaborator notified on idle transitions.
func (e *Engine) SetIdleNotifier(n IdleNotifier) {
	e.notifier = n
}

// StopResult is the outcome of a successful stop.
type StopResult struct {
	Device DeviceState
	Refund float64
}

// Start reserves a device for the user for the given duration, debiting the
// cost from the user's balance. The funds check, debit, ledger append and
// lease write commit as one atomic unit; any failure leaves balance and lease
// untouched.
func (e *Engine) Start(ctx context.Context, deviceID, userID int64, durationMinutes int) (DeviceState, error) {
	if err := e.validateDeviceID(deviceID); err != nil {
		return DeviceState{}, err
	}
	if durationMinutes <= 0 {
		return DeviceState{}, ErrInvalidDuration
	}

	if err := e.ensureDevice(ctx, deviceID); err != nil {
		return DeviceState{}, err
	}

	var state DeviceState
	var auditDebit func()
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		device, err := loadDevice(tx, deviceID)
		if err != nil {
			return err
		}

		var user model.User
		if err := lockForUpdate(tx).First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("load user %d: %w", userID, err)
		}

		now := e.now().UTC()
		// An expired lease is cleared and immediately replaced below, so
		// there is no idle transition to announce here.
		Normalize(device, now)
		if device.Reserved() {
			return ErrDeviceBusy
		}

		rate, err := e.resolveRate(device)
		if err != nil {
			return err
		}

		// Comparison uses the unrounded cost; rounding happens at the
		// balance mutation.
		cost := rate * float64(durationMinutes) / 60
		if user.CashBalance < cost {
			return ErrInsufficientFunds
		}

		before := user.CashBalance
		after := round2(before - cost)
		user.CashBalance = after

		desc := fmt.Sprintf("DEVICE_PAYMENT: user %d paid %.2f for device %d (%s) for %d minutes",
			userID, round2(cost), device.ID, device.Name, durationMinutes)
		auditDebit, err = e.recorder.Debit(tx, userID, device.ID, round2(cost), before, after, desc)
		if err != nil {
			return err
		}

		expiry := now.Add(time.Duration(durationMinutes) * time.Minute)
		device.OccupantID = &user.ID
		device.LeaseExpiry = &expiry
		device.LeaseRate = &rate

		if err := tx.Save(&user).Error; err != nil {
			return fmt.Errorf("save user balance: %w", err)
		}
		if err := tx.Save(device).Error; err != nil {
			return fmt.Errorf("save device lease: %w", err)
		}

		state = Project(device, now)
		return nil
	})
	if err != nil {
		return DeviceState{}, err
	}
	auditDebit()

	e.logger.Info("reservation started",
		zap.Int64("device_id", deviceID),
		zap.Int64("user_id", userID),
		zap.Int("duration_minutes", durationMinutes))
	return state, nil
}

// Stop ends a running reservation and refunds the occupant for the remaining
// time, computed from the rate snapshotted at start. Only the occupant or an
// admin may stop a device. A device whose lease already passed is not
// running.
func (e *Engine) Stop(ctx context.Context, deviceID, requesterID int64, isAdmin bool) (StopResult, error) {
	if err := e.validateDeviceID(deviceID); err != nil {
		return StopResult{}, err
	}

	var result StopResult
	var auditCredit func()
	// Set when the lock observes an expired lease. The clear must commit
	// even though the stop itself fails, so the callback returns nil and
	// the sentinel is surfaced after the transaction.
	var expired *DeviceState
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var device model.Device
		if err := lockForUpdate(tx).First(&device, deviceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotRunning
			}
			return fmt.Errorf("load device %d: %w", deviceID, err)
		}

		now := e.now().UTC()
		if Normalize(&device, now) {
			if err := tx.Save(&device).Error; err != nil {
				return fmt.Errorf("persist expired lease: %w", err)
			}
			state := Project(&device, now)
			expired = &state
			return nil
		}
		if !device.Reserved() {
			return ErrNotRunning
		}

		occupantID := *device.OccupantID
		if !isAdmin && occupantID != requesterID {
			return ErrForbidden
		}

		remaining := device.LeaseExpiry.Sub(now).Minutes()
		if remaining < 0 {
			remaining = 0
		}

		rate := device.HourlyRate
		if device.LeaseRate != nil {
			rate = *device.LeaseRate
		}
		refund := round2(rate * remaining / 60)

		if refund > 0 {
			var occupant model.User
			if err := lockForUpdate(tx).First(&occupant, occupantID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrUserNotFound
				}
				return fmt.Errorf("load occupant %d: %w", occupantID, err)
			}

			before := occupant.CashBalance
			after := round2(before + refund)
			occupant.CashBalance = after

			desc := fmt.Sprintf("DEVICE_REFUND: user %d refunded %.2f from device %d (%s) for %.2f minutes",
				occupantID, refund, device.ID, device.Name, remaining)
			emit, err := e.recorder.Credit(tx, occupantID, device.ID, refund, before, after, desc)
			if err != nil {
				return err
			}
			auditCredit = emit
			if err := tx.Save(&occupant).Error; err != nil {
				return fmt.Errorf("save occupant balance: %w", err)
			}
		}

		device.ClearLease()
		if err := tx.Save(&device).Error; err != nil {
			return fmt.Errorf("save device lease: %w", err)
		}

		result = StopResult{Device: Project(&device, now), Refund: refund}
		return nil
	})
	if err != nil {
		return StopResult{}, err
	}
	if expired != nil {
		e.notifyIdle(*expired)
		return StopResult{}, ErrNotRunning
	}
	if auditCredit != nil {
		auditCredit()
	}

	e.logger.Info("reservation stopped",
		zap.Int64("device_id", deviceID),
		zap.Int64("requester_id", requesterID),
		zap.Float64("refund", result.Refund))
	e.notifyIdle(result.Device)
	return result, nil
}

// ReadDevice returns the public state of one device, applying lazy expiry
// first. A lease observed as expired is durably cleared before the state is
// returned.
func (e *Engine) ReadDevice(ctx context.Context, deviceID int64) (DeviceState, error) {
	if err := e.validateDeviceID(deviceID); err != nil {
		return DeviceState{}, err
	}

	if err := e.ensureDevice(ctx, deviceID); err != nil {
		return DeviceState{}, err
	}

	var state DeviceState
	var wentIdle bool
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		device, err := loadDevice(tx, deviceID)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		if Normalize(device, now) {
			if err := tx.Save(device).Error; err != nil {
				return fmt.Errorf("persist expired lease: %w", err)
			}
			wentIdle = true
		}
		state = Project(device, now)
		return nil
	})
	if err != nil {
		return DeviceState{}, err
	}

	if wentIdle {
		e.notifyIdle(state)
	}
	return state, nil
}

// ReadAllDevices returns the public state of every device, applying lazy
// expiry to each.
func (e *Engine) ReadAllDevices(ctx context.Context) ([]DeviceState, error) {
	var states []DeviceState
	var idle []DeviceState
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var devices []model.Device
		if err := tx.Order("id").Find(&devices).Error; err != nil {
			return fmt.Errorf("load devices: %w", err)
		}

		now := e.now().UTC()
		states = make([]DeviceState, 0, len(devices))
		idle = idle[:0]
		for i := range devices {
			if Normalize(&devices[i], now) {
				if err := tx.Save(&devices[i]).Error; err != nil {
					return fmt.Errorf("persist expired lease: %w", err)
				}
				idle = append(idle, Project(&devices[i], now))
			}
			states = append(states, Project(&devices[i], now))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, s := range idle {
		e.notifyIdle(s)
	}
	return states, nil
}

func (e *Engine) validateDeviceID(deviceID int64) error {
	if !e.catalog.InRange(deviceID) {
		return ErrInvalidDeviceID
	}
	if !e.catalog.Contains(deviceID) {
		return ErrDeviceConfigNotFound
	}
	return nil
}

// ensureDevice creates the device row from its catalog entry on first use.
// The creation commits on its own, so the row survives whatever happens to
// the operation that triggered it.
func (e *Engine) ensureDevice(ctx context.Context, deviceID int64) error {
	entry, ok := e.catalog.Lookup(deviceID)
	if !ok {
		return ErrDeviceConfigNotFound
	}
	device := model.Device{
		ID:         entry.ID,
		Name:       entry.Name,
		Category:   entry.Category,
		HourlyRate: entry.HourlyRate,
	}
	err := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&device).Error
	if err != nil {
		return fmt.Errorf("create device %d: %w", deviceID, err)
	}
	return nil
}

// loadDevice fetches the locked device row.
func loadDevice(tx *gorm.DB, deviceID int64) (*model.Device, error) {
	var device model.Device
	if err := lockForUpdate(tx).First(&device, deviceID).Error; err != nil {
		return nil, fmt.Errorf("load device %d: %w", deviceID, err)
	}
	return &device, nil
}

// resolveRate prefers the device row's rate, falling back to the catalog.
func (e *Engine) resolveRate(device *model.Device) (float64, error) {
	if device.HourlyRate > 0 {
		return device.HourlyRate, nil
	}
	entry, ok := e.catalog.Lookup(device.ID)
	if !ok {
		return 0, ErrDeviceConfigNotFound
	}
	return entry.HourlyRate, nil
}

func (e *Engine) notifyIdle(state DeviceState) {
	if e.notifier != nil {
		e.notifier.NotifyIdle(state)
	}
}

// lockForUpdate adds a row-level lock on databases that support it. SQLite,
// used by the tests, serializes writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
