package lending

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"media-lending/pkg/fines"
	"media-lending/pkg/inventory"
	"media-lending/pkg/models"
)

var (
	ErrNotEligible     = errors.New("user has overdue loans or unpaid fines")
	ErrAlreadyReturned = errors.New("loan already returned")
)

// Loan periods per category, in days.
const (
	bookLoanDays    = 28
	cdLoanDays      = 7
	defaultLoanDays = 14
)

// Coordinator orchestrates borrow and return against the copy pool and the
// fine registry. It owns the Loan and Fine lifecycle.
type Coordinator struct {
	db       *gorm.DB
	pool     *inventory.Pool
	registry *fines.Registry
}

func NewCoordinator(db *gorm.DB, pool *inventory.Pool, registry *fines.Registry) *Coordinator {
	return &Coordinator{db: db, pool: pool, registry: registry}
}

func loanPeriodDays(category string) int {
	switch category {
	case models.CategoryBook:
		return bookLoanDays
	case models.CategoryCD:
		return cdLoanDays
	default:
		return defaultLoanDays
	}
}

// Borrow lends one copy of the item to the user. The pool decrement and the
// loan row are one logical unit: if the loan cannot be persisted the copy
// is handed back before the error surfaces.
func (c *Coordinator) Borrow(username, itemUid string, today time.Time) (*models.Loan, error) {
	var user models.User
	if err := c.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrUserNotFound
		}
		return nil, err
	}

	item, err := c.pool.Get(itemUid)
	if err != nil {
		return nil, err
	}
	if item.AvailableCopies <= 0 {
		return nil, inventory.ErrNoCopiesAvailable
	}

	eligible, err := c.IsEligible(username, today)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, ErrNotEligible
	}

	if err := c.pool.TryDecrement(itemUid); err != nil {
		return nil, err
	}

	loan := models.Loan{
		LoanUid:  uuid.New().String(),
		Username: username,
		ItemUid:  itemUid,
		LoanDate: today,
		DueDate:  today.AddDate(0, 0, loanPeriodDays(item.Category)),
		Status:   models.LoanStatusActive,
	}
	if err := c.db.Create(&loan).Error; err != nil {
		log.Printf("borrow failed for user %s, returning copy of item %s to the pool", username, itemUid)
		if incErr := c.pool.Increment(itemUid); incErr != nil {
			log.Printf("failed to compensate pool for item %s: %v", itemUid, incErr)
		}
		return nil, err
	}
	return &loan, nil
}

// Return closes the loan, releases the copy and issues a fine when the
// return is late. A non-nil fine in the result means one was created.
func (c *Coordinator) Return(loanUid string, returnDate time.Time) (*models.Loan, *models.Fine, error) {
	var loan models.Loan
	err := c.db.Where("loan_uid = ?", loanUid).First(&loan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, models.ErrLoanNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if loan.Status == models.LoanStatusReturned || loan.ReturnDate != nil {
		return nil, nil, ErrAlreadyReturned
	}

	res := c.db.Model(&models.Loan{}).
		Where("id = ? AND status = ?", loan.ID, models.LoanStatusActive).
		Updates(map[string]interface{}{
			"status":      models.LoanStatusReturned,
			"return_date": returnDate,
		})
	if res.Error != nil {
		return nil, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil, ErrAlreadyReturned
	}
	loan.Status = models.LoanStatusReturned
	loan.ReturnDate = &returnDate

	if err := c.pool.Increment(loan.ItemUid); err != nil {
		c.reopenLoan(&loan)
		return nil, nil, err
	}

	days := overdueDays(loan.DueDate, returnDate)
	if days <= 0 {
		return &loan, nil, nil
	}

	item, err := c.pool.Get(loan.ItemUid)
	if err != nil {
		c.undoReturn(&loan)
		return nil, nil, err
	}
	amount, err := c.registry.Assess(item.Category, days)
	if err != nil {
		log.Printf("cannot assess fine for loan %s (category %s): %v", loan.LoanUid, item.Category, err)
		c.undoReturn(&loan)
		return nil, nil, err
	}
	if !amount.IsPositive() {
		return &loan, nil, nil
	}

	fine := models.Fine{
		FineUid:    uuid.New().String(),
		LoanUid:    loan.LoanUid,
		Username:   loan.Username,
		Amount:     amount,
		IssuedDate: returnDate,
		Status:     models.FineStatusUnpaid,
	}
	if err := c.db.Create(&fine).Error; err != nil {
		c.undoReturn(&loan)
		return nil, nil, err
	}
	return &loan, &fine, nil
}

// IsEligible reports whether the user may borrow: no overdue loans and no
// unpaid fines. Overdue is computed, never stored.
func (c *Coordinator) IsEligible(username string, today time.Time) (bool, error) {
	var overdue int64
	err := c.db.Model(&models.Loan{}).
		Where("username = ? AND status = ? AND due_date < ?", username, models.LoanStatusActive, startOfDay(today)).
		Count(&overdue).Error
	if err != nil {
		return false, err
	}
	if overdue > 0 {
		return false, nil
	}

	var unpaid int64
	err = c.db.Model(&models.Fine{}).
		Where("username = ? AND status = ?", username, models.FineStatusUnpaid).
		Count(&unpaid).Error
	if err != nil {
		return false, err
	}
	return unpaid == 0, nil
}

// LoansFor lists the user's loans, newest first.
func (c *Coordinator) LoansFor(username string) ([]models.Loan, error) {
	var loans []models.Loan
	err := c.db.Where("username = ?", username).Order("loan_date DESC, id DESC").Find(&loans).Error
	if err != nil {
		return nil, err
	}
	return loans, nil
}

// OverdueUser is one row of the notifier report.
type OverdueUser struct {
	Username     string `json:"username"`
	OverdueCount int64  `json:"overdueCount"`
}

// OverdueReport lists every user holding at least one overdue loan together
// with the overdue-loan count. Message delivery is the notifier's problem.
func (c *Coordinator) OverdueReport(today time.Time) ([]OverdueUser, error) {
	var report []OverdueUser
	err := c.db.Model(&models.Loan{}).
		Select("username, COUNT(*) AS overdue_count").
		Where("status = ? AND due_date < ?", models.LoanStatusActive, startOfDay(today)).
		Group("username").
		Order("username ASC").
		Scan(&report).Error
	if err != nil {
		return nil, err
	}
	return report, nil
}

// reopenLoan compensates a return whose pool increment failed.
func (c *Coordinator) reopenLoan(loan *models.Loan) {
	err := c.db.Model(&models.Loan{}).
		Where("id = ?", loan.ID).
		Updates(map[string]interface{}{
			"status":      models.LoanStatusActive,
			"return_date": nil,
		}).Error
	if err != nil {
		log.Printf("failed to reopen loan %s after compensation: %v", loan.LoanUid, err)
		return
	}
	loan.Status = models.LoanStatusActive
	loan.ReturnDate = nil
}

// undoReturn compensates both the loan closure and the pool increment when
// a later step of the return fails.
func (c *Coordinator) undoReturn(loan *models.Loan) {
	if err := c.pool.TryDecrement(loan.ItemUid); err != nil {
		log.Printf("failed to take back copy of item %s during compensation: %v", loan.ItemUid, err)
	}
	c.reopenLoan(loan)
}

// overdueDays counts whole calendar days between the due date and the
// return date, so a return any time on day D+3 is three days late.
func overdueDays(dueDate, returnDate time.Time) int {
	due := startOfDay(dueDate)
	ret := startOfDay(returnDate)
	return int(ret.Sub(due).Hours() / 24)
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
