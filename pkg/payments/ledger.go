package payments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"media-lending/pkg/models"
)

var ErrAlreadyPaid = errors.New("fine already paid")

// Ledger settles fines. A fine moves from UNPAID to PAID exactly once and
// is never reopened.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Pay settles a single fine.
func (l *Ledger) Pay(fineUid string, today time.Time) (*models.Fine, error) {
	var fine models.Fine
	err := l.db.Where("fine_uid = ?", fineUid).First(&fine).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrFineNotFound
	}
	if err != nil {
		return nil, err
	}

	res := l.db.Model(&models.Fine{}).
		Where("id = ? AND status = ?", fine.ID, models.FineStatusUnpaid).
		Updates(map[string]interface{}{
			"status":    models.FineStatusPaid,
			"paid_date": today,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyPaid
	}

	fine.Status = models.FineStatusPaid
	fine.PaidDate = &today
	return &fine, nil
}

// PayAll settles every unpaid fine of the user and reports how many were
// settled. Settling nothing is not an error.
func (l *Ledger) PayAll(username string, today time.Time) (int64, error) {
	res := l.db.Model(&models.Fine{}).
		Where("username = ? AND status = ?", username, models.FineStatusUnpaid).
		Updates(map[string]interface{}{
			"status":    models.FineStatusPaid,
			"paid_date": today,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// UnpaidFor lists the user's unpaid fines, oldest first.
func (l *Ledger) UnpaidFor(username string) ([]models.Fine, error) {
	var unpaid []models.Fine
	err := l.db.
		Where("username = ? AND status = ?", username, models.FineStatusUnpaid).
		Order("issued_date ASC, id ASC").
		Find(&unpaid).Error
	if err != nil {
		return nil, err
	}
	return unpaid, nil
}

// OutstandingBalance sums the user's unpaid fine amounts.
func (l *Ledger) OutstandingBalance(username string) (decimal.Decimal, error) {
	unpaid, err := l.UnpaidFor(username)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, fine := range unpaid {
		balance = balance.Add(fine.Amount)
	}
	return balance, nil
}
