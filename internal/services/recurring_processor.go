package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/notify"
	"fintrack/internal/recurrence"
	"fintrack/internal/storage"
)

const (
	TitleTransactionProcessed = "Recurring Transaction Processed"
	TitleTransferProcessed    = "Recurring Transfer Processed"
	TitleTransactionFailed    = "Failed Recurring Transaction"
	TitleTransferFailed       = "Failed Recurring Transfer"

	ruleCacheSize = 256
)

// Store is the persistence the processor needs. *storage.SQLiteRepository
// implements it.
type Store interface {
	DueRecurringTransactions(ctx context.Context, now time.Time) ([]core.DueRecurringTransaction, error)
	DueRecurringTransfers(ctx context.Context, now time.Time) ([]core.DueRecurringTransfer, error)
	WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error
	DeactivateRecurringTransaction(ctx context.Context, id string) error
	DeactivateRecurringTransfer(ctx context.Context, id string) error
}

// Result summarizes one processing pass over due definitions.
type Result struct {
	Checked     int
	Processed   int
	Deactivated int
	Failed      int
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeDeactivated
)

func (r *Result) record(o outcome, err error) {
	switch {
	case err != nil:
		r.Failed++
	case o == outcomeDeactivated:
		r.Deactivated++
	default:
		r.Processed++
	}
}

// RecurringProcessor materializes due recurring transactions and transfers
// into concrete records and advances their schedules.
type RecurringProcessor struct {
	store    Store
	notifier notify.Notifier
	rules    *cache.LRU[string, recurrence.Rule] // keyed by start date and rule text
}

// NewRecurringProcessor creates a processor. A nil notifier only logs.
func NewRecurringProcessor(store Store, notifier notify.Notifier) *RecurringProcessor {
	if notifier == nil {
		notifier = notify.NewLogNotifier(nil)
	}
	return &RecurringProcessor{
		store:    store,
		notifier: notifier,
		rules:    cache.NewLRU[string, recurrence.Rule](ruleCacheSize),
	}
}

// ProcessDueTransactions applies every recurring transaction due at now.
// Failures of individual definitions are logged and counted; the returned
// error is non-nil only when the due set cannot be loaded.
func (p *RecurringProcessor) ProcessDueTransactions(ctx context.Context, now time.Time) (Result, error) {
	if p.store == nil {
		return Result{}, errors.New("processor not properly initialized")
	}

	due, err := p.store.DueRecurringTransactions(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get due recurring transactions: %w", err)
	}

	logger := processorLogger(ctx)
	logger.InfoContext(ctx, "Processing recurring transactions",
		"due", len(due),
		"processing_date", core.DateOf(now).String())

	res := Result{Checked: len(due)}
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o, err := p.applyTransaction(ctx, d, now)
		res.record(o, err)
		if err != nil {
			fields := applog.NewFields().WithRecurring(d.ID, d.Description).WithError(err)
			logger.ErrorContext(ctx, "Failed to apply recurring transaction",
				append(fields.ToSlice(), applog.FieldDueDate, d.NextDueDate.String())...)
			p.notify(ctx, notify.Notification{
				UserID:     d.UserID,
				Title:      TitleTransactionFailed,
				Body:       fmt.Sprintf("%s could not be recorded for %s", d.Description, d.NextDueDate),
				TargetPath: notify.TargetRecurring,
			})
		}
	}

	logger.InfoContext(ctx, "Recurring transaction processing complete",
		"checked", res.Checked,
		"processed", res.Processed,
		"deactivated", res.Deactivated,
		"failed", res.Failed)

	return res, nil
}

func (p *RecurringProcessor) applyTransaction(ctx context.Context, d core.DueRecurringTransaction, now time.Time) (outcome, error) {
	next, ok, err := p.nextOccurrence(d.RecurrenceRule, d.StartDate, d.NextDueDate, now)
	if err != nil {
		return 0, err
	}
	if !ok {
		if err := p.store.DeactivateRecurringTransaction(ctx, d.ID); err != nil {
			return 0, fmt.Errorf("deactivate: %w", err)
		}
		processorLogger(ctx).InfoContext(ctx, "Recurring transaction exhausted",
			applog.NewFields().WithRecurring(d.ID, d.Description).ToSlice()...)
		return outcomeDeactivated, nil
	}

	due := d.NextDueDate
	var txID string
	err = p.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		txID, err = tx.InsertTransaction(ctx, core.Transaction{
			AccountID:              d.AccountID,
			CategoryID:             d.CategoryID,
			Description:            d.Description,
			Amount:                 d.Amount,
			Date:                   due,
			RecurringTransactionID: d.ID,
		})
		if err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, d.AccountID, d.Amount); err != nil {
			return err
		}
		return tx.AdvanceRecurringTransaction(ctx, d.ID, due, next)
	})
	if err != nil {
		return 0, err
	}

	fields := applog.NewFields().WithRecurring(d.ID, d.Description)
	processorLogger(ctx).InfoContext(ctx, "Created transaction from recurring template",
		append(fields.ToSlice(),
			applog.FieldRecordID, txID,
			applog.FieldAmountCents, d.Amount.Cents,
			applog.FieldDueDate, due.String(),
			applog.FieldNextDueDate, next.String())...)

	body := fmt.Sprintf("%s: %s on %s", d.Description, d.Amount, due)
	if d.CategoryName != "" {
		body = fmt.Sprintf("%s: %s (%s) on %s", d.Description, d.Amount, d.CategoryName, due)
	}
	p.notify(ctx, notify.Notification{
		UserID:     d.UserID,
		Title:      TitleTransactionProcessed,
		Body:       body,
		TargetPath: notify.TargetRecurring,
	})
	return outcomeProcessed, nil
}

// ProcessDueTransfers applies every recurring transfer due at now.
func (p *RecurringProcessor) ProcessDueTransfers(ctx context.Context, now time.Time) (Result, error) {
	if p.store == nil {
		return Result{}, errors.New("processor not properly initialized")
	}

	due, err := p.store.DueRecurringTransfers(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get due recurring transfers: %w", err)
	}

	logger := processorLogger(ctx)
	logger.InfoContext(ctx, "Processing recurring transfers",
		"due", len(due),
		"processing_date", core.DateOf(now).String())

	res := Result{Checked: len(due)}
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o, err := p.applyTransfer(ctx, d, now)
		res.record(o, err)
		if err != nil {
			fields := applog.NewFields().WithRecurring(d.ID, d.Description).WithError(err)
			logger.ErrorContext(ctx, "Failed to apply recurring transfer",
				append(fields.ToSlice(), applog.FieldDueDate, d.NextDueDate.String())...)
			p.notify(ctx, notify.Notification{
				UserID:     d.FromUserID,
				Title:      TitleTransferFailed,
				Body:       fmt.Sprintf("%s could not be recorded for %s", d.Description, d.NextDueDate),
				TargetPath: notify.TargetRecurring,
			})
		}
	}

	logger.InfoContext(ctx, "Recurring transfer processing complete",
		"checked", res.Checked,
		"processed", res.Processed,
		"deactivated", res.Deactivated,
		"failed", res.Failed)

	return res, nil
}

func (p *RecurringProcessor) applyTransfer(ctx context.Context, d core.DueRecurringTransfer, now time.Time) (outcome, error) {
	next, ok, err := p.nextOccurrence(d.RecurrenceRule, d.StartDate, d.NextDueDate, now)
	if err != nil {
		return 0, err
	}
	if !ok {
		if err := p.store.DeactivateRecurringTransfer(ctx, d.ID); err != nil {
			return 0, fmt.Errorf("deactivate: %w", err)
		}
		processorLogger(ctx).InfoContext(ctx, "Recurring transfer exhausted",
			applog.NewFields().WithRecurring(d.ID, d.Description).ToSlice()...)
		return outcomeDeactivated, nil
	}

	due := d.NextDueDate
	amount := d.Amount.Abs()
	var trID string
	err = p.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		trID, err = tx.InsertTransfer(ctx, core.Transfer{
			FromAccountID:       d.FromAccountID,
			ToAccountID:         d.ToAccountID,
			Description:         d.Description,
			Amount:              amount,
			Date:                due,
			RecurringTransferID: d.ID,
		})
		if err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, d.FromAccountID, amount.Neg()); err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, d.ToAccountID, amount); err != nil {
			return err
		}
		return tx.AdvanceRecurringTransfer(ctx, d.ID, due, next)
	})
	if err != nil {
		return 0, err
	}

	fields := applog.NewFields().WithRecurring(d.ID, d.Description)
	processorLogger(ctx).InfoContext(ctx, "Created transfer from recurring template",
		append(fields.ToSlice(),
			applog.FieldRecordID, trID,
			applog.FieldAmountCents, amount.Cents,
			applog.FieldDueDate, due.String(),
			applog.FieldNextDueDate, next.String())...)

	p.notify(ctx, notify.Notification{
		UserID:     d.FromUserID,
		Title:      TitleTransferProcessed,
		Body:       fmt.Sprintf("%s: %s on %s", d.Description, amount, due),
		TargetPath: notify.TargetRecurring,
	})
	return outcomeProcessed, nil
}

// nextOccurrence returns the occurrence that follows the one due at due.
// Occurrences missed while the engine was not running are skipped, so the
// reference point is the later of now and due.
func (p *RecurringProcessor) nextOccurrence(rule string, start, due core.Date, now time.Time) (core.Date, bool, error) {
	r, err := p.parseRule(rule, start)
	if err != nil {
		return core.Date{}, false, err
	}

	ref := now
	if due.Time.After(ref) {
		ref = due.Time
	}
	next, ok := r.After(ref)
	if !ok {
		return core.Date{}, false, nil
	}
	return core.DateOf(next), true, nil
}

func (p *RecurringProcessor) parseRule(text string, start core.Date) (recurrence.Rule, error) {
	key := start.String() + "\n" + text
	if r, ok := p.rules.Get(key); ok {
		return r, nil
	}
	r, err := recurrence.Parse(text, start.Time)
	if err != nil {
		return recurrence.Rule{}, err
	}
	p.rules.Set(key, r)
	return r, nil
}

func (p *RecurringProcessor) notify(ctx context.Context, n notify.Notification) {
	if err := p.notifier.Notify(ctx, n); err != nil {
		processorLogger(ctx).WarnContext(ctx, "Failed to send notification",
			append(applog.NewFields().WithError(err).ToSlice(), "user_id", n.UserID, "title", n.Title)...)
	}
}

// processorLogger returns the logger carried by ctx, which holds the
// scheduler's cycle id when called from a cycle.
func processorLogger(ctx context.Context) *applog.Logger {
	return applog.FromContext(ctx).WithComponent(applog.ComponentProcessor)
}
