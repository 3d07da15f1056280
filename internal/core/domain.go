package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

type (
	// Date is a calendar day in UTC. The time component is always midnight.
	Date struct {
		time.Time
	}

	// Money is a signed amount in cents. Negative values are expenses.
	Money struct {
		Cents int64
	}

	Account struct {
		ID      string
		UserID  string
		Name    string
		Balance Money
	}

	Category struct {
		ID     string
		UserID string
		Name   string
	}

	// Transaction is a concrete ledger entry on a single account.
	Transaction struct {
		ID                     string
		AccountID              string
		CategoryID             string // empty when uncategorized
		Description            string
		Amount                 Money
		Date                   Date
		RecurringTransactionID string // empty for manual entries
	}

	// Transfer moves a positive Amount from one account to another.
	Transfer struct {
		ID                  string
		FromAccountID       string
		ToAccountID         string
		Description         string
		Amount              Money
		Date                Date
		RecurringTransferID string
	}

	// RecurringTransaction is the template for transactions materialized on a schedule.
	RecurringTransaction struct {
		ID                string
		AccountID         string
		CategoryID        string
		Description       string
		Amount            Money
		RecurrenceRule    string
		StartDate         Date
		NextDueDate       Date
		LastProcessedDate Date // zero until the first occurrence is materialized
		IsActive          bool
	}

	// RecurringTransfer is the template for transfers materialized on a schedule.
	RecurringTransfer struct {
		ID                string
		FromAccountID     string
		ToAccountID       string
		Description       string
		Amount            Money
		RecurrenceRule    string
		StartDate         Date
		NextDueDate       Date
		LastProcessedDate Date
		IsActive          bool
	}

	// DueRecurringTransaction carries the owner and category context needed
	// to notify and authorize downstream.
	DueRecurringTransaction struct {
		RecurringTransaction
		UserID       string
		CategoryName string
	}

	DueRecurringTransfer struct {
		RecurringTransfer
		FromUserID string
		ToUserID   string
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyAccount     = errors.New("empty account")
	ErrEmptyRule        = errors.New("empty recurrence rule")
	ErrSameAccount      = errors.New("transfer source and destination are the same account")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the UTC calendar day containing t.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD. The zero date formats as "".
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// IsEmpty returns true if the date is zero (for optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

// Before reports whether d is an earlier day than other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// After reports whether d is a later day than other.
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

func (m Money) Validate() error {
	if m.Cents == 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccount
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	return validateDescription(t.Description)
}

func (t Transfer) Validate() error {
	if strings.TrimSpace(t.FromAccountID) == "" || strings.TrimSpace(t.ToAccountID) == "" {
		return ErrEmptyAccount
	}
	if t.FromAccountID == t.ToAccountID {
		return ErrSameAccount
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if t.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	return validateDescription(t.Description)
}

func (rt RecurringTransaction) Validate() error {
	if strings.TrimSpace(rt.AccountID) == "" {
		return ErrEmptyAccount
	}
	if err := rt.StartDate.Validate(); err != nil {
		return errors.New("invalid start date: " + err.Error())
	}
	if err := rt.NextDueDate.Validate(); err != nil {
		return errors.New("invalid next due date: " + err.Error())
	}
	if rt.NextDueDate.Before(rt.StartDate) {
		return errors.New("next due date must not be before start date")
	}
	if strings.TrimSpace(rt.RecurrenceRule) == "" {
		return ErrEmptyRule
	}
	if err := rt.Amount.Validate(); err != nil {
		return err
	}
	return validateDescription(rt.Description)
}

func (rt RecurringTransfer) Validate() error {
	if strings.TrimSpace(rt.FromAccountID) == "" || strings.TrimSpace(rt.ToAccountID) == "" {
		return ErrEmptyAccount
	}
	if rt.FromAccountID == rt.ToAccountID {
		return ErrSameAccount
	}
	if err := rt.StartDate.Validate(); err != nil {
		return errors.New("invalid start date: " + err.Error())
	}
	if err := rt.NextDueDate.Validate(); err != nil {
		return errors.New("invalid next due date: " + err.Error())
	}
	if rt.NextDueDate.Before(rt.StartDate) {
		return errors.New("next due date must not be before start date")
	}
	if strings.TrimSpace(rt.RecurrenceRule) == "" {
		return ErrEmptyRule
	}
	if err := rt.Amount.Validate(); err != nil {
		return err
	}
	return validateDescription(rt.Description)
}

func validateDescription(desc string) error {
	if len(strings.TrimSpace(desc)) == 0 {
		return ErrEmptyDescription
	}
	if len(desc) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}
