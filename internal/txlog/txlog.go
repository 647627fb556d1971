package txlog

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"laundry-reservation-backend/internal/model"
)

// Recorder appends balance mutations to the ledger transaction table and
// mirrors them to the transaction audit log. Rows are written through the
// caller's transaction and the audit line is deferred behind it, so an
// aborted operation leaves no audit trail in either place.
type Recorder struct {
	audit *zap.Logger
}

// NewRecorder creates a Recorder writing audit lines to the given logger.
func NewRecorder(audit *zap.Logger) *Recorder {
	return &Recorder{audit: audit}
}

// Debit records a charge against a user's balance. The returned emit writes
// the audit line and must be called only after the surrounding transaction
// commits, so a rolled-back charge never reaches the log.
func (r *Recorder) Debit(tx *gorm.DB, userID, deviceID int64, amount, before, after float64, description string) (func(), error) {
	return r.append(tx, model.TransactionDebit, userID, deviceID, amount, before, after, description)
}

// Credit records a refund to a user's balance. The returned emit follows the
// same after-commit contract as Debit's.
func (r *Recorder) Credit(tx *gorm.DB, userID, deviceID int64, amount, before, after float64, description string) (func(), error) {
	return r.append(tx, model.TransactionCredit, userID, deviceID, amount, before, after, description)
}

func (r *Recorder) append(tx *gorm.DB, kind string, userID, deviceID int64, amount, before, after float64, description string) (func(), error) {
	row := model.LedgerTransaction{
		UserID:        userID,
		DeviceID:      deviceID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   description,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("append ledger transaction: %w", err)
	}

	emit := func() {
		r.audit.Info(description,
			zap.String("kind", kind),
			zap.Int64("user_id", userID),
			zap.Int64("device_id", deviceID),
			zap.Float64("amount", amount),
			zap.Float64("balance_before", before),
			zap.Float64("balance_after", after),
		)
	}
	return emit, nil
}

// NewAuditLogger builds the dedicated transaction log writing to path.
func NewAuditLogger(path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	return cfg.Build()
}
