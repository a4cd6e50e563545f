package models

import "errors"

// Not-found errors for the five entities. Business-rule rejections live in
// the package that owns the entity's lifecycle.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrItemNotFound        = errors.New("media item not found")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrFineNotFound        = errors.New("fine not found")
)
