package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fintrack/internal/core"
	applog "fintrack/internal/log"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleDefinition means the definition was advanced, deactivated or
	// deleted after it was selected as due.
	ErrStaleDefinition = errors.New("recurring definition changed since it was selected")
	ErrAccountNotFound = errors.New("account not found")
)

type SQLiteRepository struct {
	db *sql.DB
}

// dsn enables foreign keys and waits on locks instead of failing with SQLITE_BUSY.
func dsn(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one pooled connection makes concurrent
	// callers queue in-process instead of contending for the file lock.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// DueRecurringTransactions returns active recurring transactions whose next
// due date is on or before now, with the owning user and category name.
func (r *SQLiteRepository) DueRecurringTransactions(ctx context.Context, now time.Time) ([]core.DueRecurringTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rt.id, rt.account_id, COALESCE(rt.category_id, ''), rt.description, rt.amount_cents,
		       rt.recurrence_rule, rt.start_date, rt.next_due_date, COALESCE(rt.last_processed_date, ''),
		       rt.is_active, a.user_id, COALESCE(c.name, '')
		FROM recurring_transactions rt
		JOIN accounts a ON a.id = rt.account_id
		LEFT JOIN categories c ON c.id = rt.category_id
		WHERE rt.is_active = 1 AND rt.next_due_date <= ?
		ORDER BY rt.next_due_date, rt.id`,
		core.DateOf(now).String())
	if err != nil {
		return nil, fmt.Errorf("query due recurring transactions: %w", err)
	}
	defer rows.Close()

	var due []core.DueRecurringTransaction
	for rows.Next() {
		var (
			d      core.DueRecurringTransaction
			scanRT recurringTransactionRow
		)
		if err := rows.Scan(scanRT.dest(&d.UserID, &d.CategoryName)...); err != nil {
			return nil, fmt.Errorf("scan due recurring transaction: %w", err)
		}
		rt, err := scanRT.toCore()
		if err != nil {
			return nil, err
		}
		d.RecurringTransaction = rt
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due recurring transactions: %w", err)
	}

	storageLogger(ctx).DebugContext(ctx, "Selected due recurring transactions", "count", len(due), "now", now.Format(time.RFC3339))
	return due, nil
}

// DueRecurringTransfers returns active recurring transfers whose next due
// date is on or before now, with the owning users of both legs.
func (r *SQLiteRepository) DueRecurringTransfers(ctx context.Context, now time.Time) ([]core.DueRecurringTransfer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rt.id, rt.from_account_id, rt.to_account_id, rt.description, rt.amount_cents,
		       rt.recurrence_rule, rt.start_date, rt.next_due_date, COALESCE(rt.last_processed_date, ''),
		       rt.is_active, fa.user_id, ta.user_id
		FROM recurring_transfers rt
		JOIN accounts fa ON fa.id = rt.from_account_id
		JOIN accounts ta ON ta.id = rt.to_account_id
		WHERE rt.is_active = 1 AND rt.next_due_date <= ?
		ORDER BY rt.next_due_date, rt.id`,
		core.DateOf(now).String())
	if err != nil {
		return nil, fmt.Errorf("query due recurring transfers: %w", err)
	}
	defer rows.Close()

	var due []core.DueRecurringTransfer
	for rows.Next() {
		var (
			d      core.DueRecurringTransfer
			scanRT recurringTransferRow
		)
		if err := rows.Scan(scanRT.dest(&d.FromUserID, &d.ToUserID)...); err != nil {
			return nil, fmt.Errorf("scan due recurring transfer: %w", err)
		}
		rt, err := scanRT.toCore()
		if err != nil {
			return nil, err
		}
		d.RecurringTransfer = rt
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due recurring transfers: %w", err)
	}

	storageLogger(ctx).DebugContext(ctx, "Selected due recurring transfers", "count", len(due), "now", now.Format(time.RFC3339))
	return due, nil
}

// DeactivateRecurringTransaction stops a recurring transaction from being selected again.
func (r *SQLiteRepository) DeactivateRecurringTransaction(ctx context.Context, id string) error {
	return r.deactivate(ctx, "recurring_transactions", id)
}

// DeactivateRecurringTransfer stops a recurring transfer from being selected again.
func (r *SQLiteRepository) DeactivateRecurringTransfer(ctx context.Context, id string) error {
	return r.deactivate(ctx, "recurring_transfers", id)
}

func (r *SQLiteRepository) deactivate(ctx context.Context, table, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET is_active = 0, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate %s %s: %w", table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("deactivate %s %s: %w", table, id, ErrNotFound)
	}

	storageLogger(ctx).InfoContext(ctx, "Recurring definition deactivated", "table", table, "id", id)
	return nil
}

// WithinTx runs fn inside a single database transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
func (r *SQLiteRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&txQueries{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			storageLogger(ctx).ErrorContext(ctx, "Failed to roll back transaction", applog.FieldError, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// recurringTransactionRow holds the nullable and textual columns of a
// recurring_transactions row before conversion.
type recurringTransactionRow struct {
	rt                           core.RecurringTransaction
	startDate, nextDue, lastProc string
	amountCents                  int64
	active                       bool
}

func (s *recurringTransactionRow) dest(extra ...any) []any {
	return append([]any{
		&s.rt.ID, &s.rt.AccountID, &s.rt.CategoryID, &s.rt.Description, &s.amountCents,
		&s.rt.RecurrenceRule, &s.startDate, &s.nextDue, &s.lastProc, &s.active,
	}, extra...)
}

func (s *recurringTransactionRow) toCore() (core.RecurringTransaction, error) {
	rt := s.rt
	rt.Amount = core.Money{Cents: s.amountCents}
	rt.IsActive = s.active
	var err error
	if rt.StartDate, rt.NextDueDate, rt.LastProcessedDate, err = parseScheduleDates(s.startDate, s.nextDue, s.lastProc); err != nil {
		return rt, fmt.Errorf("recurring transaction %s: %w", rt.ID, err)
	}
	return rt, nil
}

type recurringTransferRow struct {
	rt                           core.RecurringTransfer
	startDate, nextDue, lastProc string
	amountCents                  int64
	active                       bool
}

func (s *recurringTransferRow) dest(extra ...any) []any {
	return append([]any{
		&s.rt.ID, &s.rt.FromAccountID, &s.rt.ToAccountID, &s.rt.Description, &s.amountCents,
		&s.rt.RecurrenceRule, &s.startDate, &s.nextDue, &s.lastProc, &s.active,
	}, extra...)
}

func (s *recurringTransferRow) toCore() (core.RecurringTransfer, error) {
	rt := s.rt
	rt.Amount = core.Money{Cents: s.amountCents}
	rt.IsActive = s.active
	var err error
	if rt.StartDate, rt.NextDueDate, rt.LastProcessedDate, err = parseScheduleDates(s.startDate, s.nextDue, s.lastProc); err != nil {
		return rt, fmt.Errorf("recurring transfer %s: %w", rt.ID, err)
	}
	return rt, nil
}

func parseScheduleDates(start, next, last string) (core.Date, core.Date, core.Date, error) {
	startDate, err := core.ParseDate(start)
	if err != nil {
		return core.Date{}, core.Date{}, core.Date{}, fmt.Errorf("start date: %w", err)
	}
	nextDue, err := core.ParseDate(next)
	if err != nil {
		return core.Date{}, core.Date{}, core.Date{}, fmt.Errorf("next due date: %w", err)
	}
	var lastProcessed core.Date
	if last != "" {
		if lastProcessed, err = core.ParseDate(last); err != nil {
			return core.Date{}, core.Date{}, core.Date{}, fmt.Errorf("last processed date: %w", err)
		}
	}
	return startDate, nextDue, lastProcessed, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDate(d core.Date) sql.NullString {
	return sql.NullString{String: d.String(), Valid: !d.IsZero()}
}

func newID() string {
	return uuid.NewString()
}

func storageLogger(ctx context.Context) *applog.Logger {
	return applog.FromContext(ctx).WithComponent(applog.ComponentStorage)
}
