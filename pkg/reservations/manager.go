package reservations

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"media-lending/pkg/inventory"
	"media-lending/pkg/models"
)

// HoldWindow is how long a reservation stays active before expiring, and
// also the pickup window granted when a reservation is fulfilled.
const HoldWindow = 48 * time.Hour

var (
	ErrItemAvailable        = errors.New("item has available copies, borrow it instead")
	ErrDuplicateReservation = errors.New("user already holds an active reservation for this item")
	ErrNotOwner             = errors.New("reservation belongs to a different user")
	ErrNotActive            = errors.New("reservation is no longer active")
)

// Manager owns the reservation lifecycle: one FIFO queue of ACTIVE
// reservations per item, ordered by reservation date with the row id as
// tie-break. Every status transition is a compare-and-set on status so a
// reservation leaves ACTIVE exactly once.
type Manager struct {
	db   *gorm.DB
	pool *inventory.Pool
}

func NewManager(db *gorm.DB, pool *inventory.Pool) *Manager {
	return &Manager{db: db, pool: pool}
}

// Create places a reservation for an out-of-stock item.
func (m *Manager) Create(username, itemUid string, now time.Time) (*models.Reservation, error) {
	var user models.User
	if err := m.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrUserNotFound
		}
		return nil, err
	}

	item, err := m.pool.Get(itemUid)
	if err != nil {
		return nil, err
	}
	if item.AvailableCopies > 0 {
		return nil, ErrItemAvailable
	}

	var active int64
	err = m.db.Model(&models.Reservation{}).
		Where("username = ? AND item_uid = ? AND status = ?", username, itemUid, models.ReservationStatusActive).
		Count(&active).Error
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, ErrDuplicateReservation
	}

	reservation := models.Reservation{
		ReservationUid:  uuid.New().String(),
		Username:        username,
		ItemUid:         itemUid,
		ReservationDate: now,
		ExpiryDate:      now.Add(HoldWindow),
		Status:          models.ReservationStatusActive,
	}
	if err := m.db.Create(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// Cancel moves an ACTIVE reservation owned by username to CANCELLED.
func (m *Manager) Cancel(reservationUid, username string) error {
	reservation, err := m.get(reservationUid)
	if err != nil {
		return err
	}
	if reservation.Username != username {
		return ErrNotOwner
	}

	res := m.db.Model(&models.Reservation{}).
		Where("id = ? AND status = ?", reservation.ID, models.ReservationStatusActive).
		Update("status", models.ReservationStatusCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotActive
	}
	return nil
}

// FulfillNext marks the head of the item's queue FULFILLED and grants it a
// fresh pickup window. Returns nil when the queue is empty. Fulfillment
// does not consume a copy: the member still borrows through the
// coordinator, which performs the guarded decrement.
func (m *Manager) FulfillNext(itemUid string, now time.Time) (*models.Reservation, error) {
	for {
		var head models.Reservation
		err := m.db.
			Where("item_uid = ? AND status = ?", itemUid, models.ReservationStatusActive).
			Order("reservation_date ASC, id ASC").
			First(&head).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		pickupUntil := now.Add(HoldWindow)
		res := m.db.Model(&models.Reservation{}).
			Where("id = ? AND status = ?", head.ID, models.ReservationStatusActive).
			Updates(map[string]interface{}{
				"status":      models.ReservationStatusFulfilled,
				"expiry_date": pickupUntil,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost to a concurrent cancel or expiry; retry with the new head.
			continue
		}

		head.Status = models.ReservationStatusFulfilled
		head.ExpiryDate = pickupUntil
		return &head, nil
	}
}

// ExpireStale transitions every ACTIVE reservation past its expiry date to
// EXPIRED and reports how many were affected.
func (m *Manager) ExpireStale(now time.Time) (int64, error) {
	res := m.db.Model(&models.Reservation{}).
		Where("status = ? AND expiry_date < ?", models.ReservationStatusActive, now).
		Update("status", models.ReservationStatusExpired)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// Position returns the 1-based rank of a reservation within its item's
// ACTIVE queue, or -1 when the reservation does not exist or is no longer
// active.
func (m *Manager) Position(reservationUid string) (int, error) {
	reservation, err := m.get(reservationUid)
	if errors.Is(err, models.ErrReservationNotFound) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	if reservation.Status != models.ReservationStatusActive {
		return -1, nil
	}

	var ahead int64
	err = m.db.Model(&models.Reservation{}).
		Where("item_uid = ? AND status = ?", reservation.ItemUid, models.ReservationStatusActive).
		Where("reservation_date < ? OR (reservation_date = ? AND id < ?)",
			reservation.ReservationDate, reservation.ReservationDate, reservation.ID).
		Count(&ahead).Error
	if err != nil {
		return -1, err
	}
	return int(ahead) + 1, nil
}

// QueueFor lists the item's ACTIVE reservations in queue order.
func (m *Manager) QueueFor(itemUid string) ([]models.Reservation, error) {
	var queue []models.Reservation
	err := m.db.
		Where("item_uid = ? AND status = ?", itemUid, models.ReservationStatusActive).
		Order("reservation_date ASC, id ASC").
		Find(&queue).Error
	if err != nil {
		return nil, err
	}
	return queue, nil
}

func (m *Manager) get(reservationUid string) (*models.Reservation, error) {
	var reservation models.Reservation
	err := m.db.Where("reservation_uid = ?", reservationUid).First(&reservation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}
