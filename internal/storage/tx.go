package storage

import (
	"context"
	"database/sql"
	"fmt"

	"fintrack/internal/core"
)

// Tx is the set of writes applied atomically for one occurrence.
type Tx interface {
	InsertTransaction(ctx context.Context, t core.Transaction) (string, error)
	InsertTransfer(ctx context.Context, t core.Transfer) (string, error)
	AdjustBalance(ctx context.Context, accountID string, delta core.Money) error
	AdvanceRecurringTransaction(ctx context.Context, id string, due, next core.Date) error
	AdvanceRecurringTransfer(ctx context.Context, id string, due, next core.Date) error
}

type txQueries struct {
	tx *sql.Tx
}

func (q *txQueries) InsertTransaction(ctx context.Context, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("invalid transaction: %w", err)
	}
	id := t.ID
	if id == "" {
		id = newID()
	}
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, category_id, description, amount_cents, date, recurring_transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, t.AccountID, nullString(t.CategoryID), t.Description, t.Amount.Cents, t.Date.String(),
		nullString(t.RecurringTransactionID))
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

func (q *txQueries) InsertTransfer(ctx context.Context, t core.Transfer) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("invalid transfer: %w", err)
	}
	id := t.ID
	if id == "" {
		id = newID()
	}
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO transfers (id, from_account_id, to_account_id, description, amount_cents, date, recurring_transfer_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, t.FromAccountID, t.ToAccountID, t.Description, t.Amount.Cents, t.Date.String(),
		nullString(t.RecurringTransferID))
	if err != nil {
		return "", fmt.Errorf("insert transfer: %w", err)
	}
	return id, nil
}

// AdjustBalance adds delta to the account balance.
func (q *txQueries) AdjustBalance(ctx context.Context, accountID string, delta core.Money) error {
	res, err := q.tx.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ?`, delta.Cents, accountID)
	if err != nil {
		return fmt.Errorf("adjust balance of %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust balance of %s: %w", accountID, err)
	}
	if n == 0 {
		return fmt.Errorf("adjust balance of %s: %w", accountID, ErrAccountNotFound)
	}
	return nil
}

// AdvanceRecurringTransaction moves the schedule from due to next, provided
// the definition is still active and still due on due.
func (q *txQueries) AdvanceRecurringTransaction(ctx context.Context, id string, due, next core.Date) error {
	return q.advance(ctx, "recurring_transactions", id, due, next)
}

func (q *txQueries) AdvanceRecurringTransfer(ctx context.Context, id string, due, next core.Date) error {
	return q.advance(ctx, "recurring_transfers", id, due, next)
}

func (q *txQueries) advance(ctx context.Context, table, id string, due, next core.Date) error {
	if !next.After(due) {
		return fmt.Errorf("advance %s %s: next due date %s is not after %s", table, id, next, due)
	}
	res, err := q.tx.ExecContext(ctx, `
		UPDATE `+table+`
		SET next_due_date = ?, last_processed_date = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ? AND next_due_date = ? AND is_active = 1`,
		next.String(), due.String(), id, due.String())
	if err != nil {
		return fmt.Errorf("advance %s %s: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance %s %s: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("advance %s %s: %w", table, id, ErrStaleDefinition)
	}
	return nil
}
