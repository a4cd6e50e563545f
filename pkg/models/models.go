package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CategoryBook = "BOOK"
	CategoryCD   = "CD"
	CategoryDVD  = "DVD"
)

const (
	LoanStatusActive   = "ACTIVE"
	LoanStatusReturned = "RETURNED"
)

const (
	ReservationStatusActive    = "ACTIVE"
	ReservationStatusCancelled = "CANCELLED"
	ReservationStatusFulfilled = "FULFILLED"
	ReservationStatusExpired   = "EXPIRED"
)

const (
	FineStatusUnpaid = "UNPAID"
	FineStatusPaid   = "PAID"
)

type User struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"size:80;not null;uniqueIndex"`
	FullName  string `gorm:"size:160"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MediaItem struct {
	ID              uint   `gorm:"primaryKey"`
	ItemUid         string `gorm:"type:uuid;uniqueIndex;not null"`
	Title           string `gorm:"not null"`
	Category        string `gorm:"size:20;not null"`
	TotalCopies     int    `gorm:"not null;check:total_copies >= 0"`
	AvailableCopies int    `gorm:"not null;check:available_copies >= 0 AND available_copies <= total_copies"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Loan struct {
	ID         uint   `gorm:"primaryKey"`
	LoanUid    string `gorm:"type:uuid;uniqueIndex;not null"`
	Username   string `gorm:"size:80;not null;index"`
	ItemUid    string `gorm:"type:uuid;not null;index"`
	LoanDate   time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Status     string `gorm:"size:20;not null;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Reservation struct {
	ID              uint   `gorm:"primaryKey"`
	ReservationUid  string `gorm:"type:uuid;uniqueIndex;not null"`
	Username        string `gorm:"size:80;not null;index"`
	ItemUid         string `gorm:"type:uuid;not null;index"`
	ReservationDate time.Time
	ExpiryDate      time.Time
	Status          string `gorm:"size:20;not null;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Fine struct {
	ID         uint            `gorm:"primaryKey"`
	FineUid    string          `gorm:"type:uuid;uniqueIndex;not null"`
	LoanUid    string          `gorm:"type:uuid;uniqueIndex;not null"`
	Username   string          `gorm:"size:80;not null;index"`
	Amount     decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	IssuedDate time.Time
	PaidDate   *time.Time
	Status     string `gorm:"size:20;not null;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
