// Package core provides money handling utilities.
//
// Amounts are held as signed cents; formatting goes through decimal so the
// string form never suffers float rounding.
package core

import (
	"github.com/shopspring/decimal"
)

// Abs returns the magnitude of m.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

// Neg returns m with its sign flipped.
func (m Money) Neg() Money {
	return Money{Cents: -m.Cents}
}

// Decimal returns the amount in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with two decimal places, e.g. "-12.30".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}
