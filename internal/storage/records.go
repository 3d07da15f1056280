package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fintrack/internal/core"
	"fintrack/internal/recurrence"
)

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.UserID == "" || a.Name == "" {
		return core.Account{}, errors.New("account needs a user and a name")
	}
	if a.ID == "" {
		a.ID = newID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, balance_cents) VALUES (?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Balance.Cents)
	if err != nil {
		return core.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	var a core.Account
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, balance_cents FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.UserID, &a.Name, &a.Balance.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if c.UserID == "" || c.Name == "" {
		return core.Category{}, errors.New("category needs a user and a name")
	}
	if c.ID == "" {
		c.ID = newID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (id, user_id, name) VALUES (?, ?, ?)`, c.ID, c.UserID, c.Name)
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

// firstDue returns the first occurrence of rule on or after start, so a
// start date off the rule's grid never becomes a due date.
func firstDue(rule string, start core.Date) (core.Date, error) {
	rr, err := recurrence.Parse(rule, start.Time)
	if err != nil {
		return core.Date{}, err
	}
	next, ok := rr.Next(start.Time)
	if !ok {
		return core.Date{}, fmt.Errorf("%w: no occurrence on or after %s", recurrence.ErrMalformedRule, start)
	}
	return core.DateOf(next), nil
}

// CreateRecurringTransaction stores a new definition. A zero NextDueDate
// defaults to the rule's first occurrence on or after StartDate; an explicit
// one is stored as given.
func (r *SQLiteRepository) CreateRecurringTransaction(ctx context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	if rt.NextDueDate.IsEmpty() && !rt.StartDate.IsEmpty() {
		due, err := firstDue(rt.RecurrenceRule, rt.StartDate)
		if err != nil {
			return core.RecurringTransaction{}, fmt.Errorf("invalid recurring transaction: %w", err)
		}
		rt.NextDueDate = due
	}
	if err := rt.Validate(); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("invalid recurring transaction: %w", err)
	}
	if rt.ID == "" {
		rt.ID = newID()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_transactions
			(id, account_id, category_id, description, amount_cents, recurrence_rule,
			 start_date, next_due_date, last_processed_date, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rt.ID, rt.AccountID, nullString(rt.CategoryID), rt.Description, rt.Amount.Cents, rt.RecurrenceRule,
		rt.StartDate.String(), rt.NextDueDate.String(), nullDate(rt.LastProcessedDate), rt.IsActive)
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("insert recurring transaction: %w", err)
	}
	return rt, nil
}

func (r *SQLiteRepository) CreateRecurringTransfer(ctx context.Context, rt core.RecurringTransfer) (core.RecurringTransfer, error) {
	if rt.NextDueDate.IsEmpty() && !rt.StartDate.IsEmpty() {
		due, err := firstDue(rt.RecurrenceRule, rt.StartDate)
		if err != nil {
			return core.RecurringTransfer{}, fmt.Errorf("invalid recurring transfer: %w", err)
		}
		rt.NextDueDate = due
	}
	if err := rt.Validate(); err != nil {
		return core.RecurringTransfer{}, fmt.Errorf("invalid recurring transfer: %w", err)
	}
	if rt.ID == "" {
		rt.ID = newID()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_transfers
			(id, from_account_id, to_account_id, description, amount_cents, recurrence_rule,
			 start_date, next_due_date, last_processed_date, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rt.ID, rt.FromAccountID, rt.ToAccountID, rt.Description, rt.Amount.Cents, rt.RecurrenceRule,
		rt.StartDate.String(), rt.NextDueDate.String(), nullDate(rt.LastProcessedDate), rt.IsActive)
	if err != nil {
		return core.RecurringTransfer{}, fmt.Errorf("insert recurring transfer: %w", err)
	}
	return rt, nil
}

func (r *SQLiteRepository) GetRecurringTransaction(ctx context.Context, id string) (core.RecurringTransaction, error) {
	var s recurringTransactionRow
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, COALESCE(category_id, ''), description, amount_cents, recurrence_rule,
		       start_date, next_due_date, COALESCE(last_processed_date, ''), is_active
		FROM recurring_transactions WHERE id = ?`, id).Scan(s.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringTransaction{}, fmt.Errorf("recurring transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("get recurring transaction %s: %w", id, err)
	}
	return s.toCore()
}

func (r *SQLiteRepository) GetRecurringTransfer(ctx context.Context, id string) (core.RecurringTransfer, error) {
	var s recurringTransferRow
	err := r.db.QueryRowContext(ctx, `
		SELECT id, from_account_id, to_account_id, description, amount_cents, recurrence_rule,
		       start_date, next_due_date, COALESCE(last_processed_date, ''), is_active
		FROM recurring_transfers WHERE id = ?`, id).Scan(s.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringTransfer{}, fmt.Errorf("recurring transfer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.RecurringTransfer{}, fmt.Errorf("get recurring transfer %s: %w", id, err)
	}
	return s.toCore()
}

// ListTransactionsByRecurring returns the records materialized from one
// recurring transaction, oldest first.
func (r *SQLiteRepository) ListTransactionsByRecurring(ctx context.Context, recurringID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, COALESCE(category_id, ''), description, amount_cents, date, recurring_transaction_id
		FROM transactions WHERE recurring_transaction_id = ?
		ORDER BY date, id`, recurringID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t    core.Transaction
			date string
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &t.CategoryID, &t.Description, &t.Amount.Cents, &date, &t.RecurringTransactionID); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListTransfersByRecurring(ctx context.Context, recurringID string) ([]core.Transfer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, from_account_id, to_account_id, description, amount_cents, date, recurring_transfer_id
		FROM transfers WHERE recurring_transfer_id = ?
		ORDER BY date, id`, recurringID)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var out []core.Transfer
	for rows.Next() {
		var (
			t    core.Transfer
			date string
		)
		if err := rows.Scan(&t.ID, &t.FromAccountID, &t.ToAccountID, &t.Description, &t.Amount.Cents, &date, &t.RecurringTransferID); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		if t.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("transfer %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return out, nil
}
