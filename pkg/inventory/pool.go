package inventory

import (
	"errors"
	"log"

	"gorm.io/gorm"

	"media-lending/pkg/models"
)

var (
	ErrNoCopiesAvailable = errors.New("no copies available")
	ErrCopiesExceedTotal = errors.New("available copies would exceed total copies")
)

// Pool tracks the available copy count of each media item. All count
// mutations go through TryDecrement/Increment; both are single guarded
// UPDATE statements so that concurrent callers for the same item are
// decided by the database, not by a read-then-write race.
type Pool struct {
	db *gorm.DB
}

func NewPool(db *gorm.DB) *Pool {
	return &Pool{db: db}
}

func (p *Pool) Get(itemUid string) (*models.MediaItem, error) {
	var item models.MediaItem
	err := p.db.Where("item_uid = ?", itemUid).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// TryDecrement claims one available copy. When two callers race for the
// last copy, the WHERE guard lets exactly one of them through.
func (p *Pool) TryDecrement(itemUid string) error {
	res := p.db.Model(&models.MediaItem{}).
		Where("item_uid = ? AND available_copies > 0", itemUid).
		Update("available_copies", gorm.Expr("available_copies - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := p.Get(itemUid); err != nil {
			return err
		}
		return ErrNoCopiesAvailable
	}
	return nil
}

// Increment releases one copy back into the pool. Pushing the count above
// total_copies means a loan was double-counted somewhere; that is an
// internal invariant breach, logged and surfaced as an error.
func (p *Pool) Increment(itemUid string) error {
	res := p.db.Model(&models.MediaItem{}).
		Where("item_uid = ? AND available_copies < total_copies", itemUid).
		Update("available_copies", gorm.Expr("available_copies + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := p.Get(itemUid); err != nil {
			return err
		}
		log.Printf("invariant violation: increment for item %s would exceed total copies", itemUid)
		return ErrCopiesExceedTotal
	}
	return nil
}
