package fines

import (
	"errors"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"media-lending/pkg/models"
)

var ErrUnsupportedCategory = errors.New("unsupported media category")

// Strategy computes the fine owed for a number of overdue days.
type Strategy interface {
	Assess(overdueDays int) decimal.Decimal
}

// PerDayStrategy charges a flat rate for every overdue day.
type PerDayStrategy struct {
	RatePerDay decimal.Decimal
}

func (s PerDayStrategy) Assess(overdueDays int) decimal.Decimal {
	if overdueDays <= 0 {
		return decimal.Zero
	}
	return s.RatePerDay.Mul(decimal.NewFromInt(int64(overdueDays)))
}

// Registry maps media categories to fine strategies. Categories may be
// registered at runtime; lookups normalize the category to upper case.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// DefaultRegistry registers the standard per-day rates for the built-in
// categories: BOOK 10.00, CD 20.00, DVD 15.00.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(models.CategoryBook, PerDayStrategy{RatePerDay: decimal.RequireFromString("10.00")})
	r.Register(models.CategoryCD, PerDayStrategy{RatePerDay: decimal.RequireFromString("20.00")})
	r.Register(models.CategoryDVD, PerDayStrategy{RatePerDay: decimal.RequireFromString("15.00")})
	return r
}

func (r *Registry) Register(category string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[canonical(category)] = s
}

// Assess computes the fine for the given category and overdue-day count.
// Non-positive overdue days always yield zero, even for unknown categories.
func (r *Registry) Assess(category string, overdueDays int) (decimal.Decimal, error) {
	if overdueDays <= 0 {
		return decimal.Zero, nil
	}

	r.mu.RLock()
	s, ok := r.strategies[canonical(category)]
	r.mu.RUnlock()
	if !ok {
		return decimal.Zero, ErrUnsupportedCategory
	}
	return s.Assess(overdueDays), nil
}

func canonical(category string) string {
	return strings.ToUpper(strings.TrimSpace(category))
}
