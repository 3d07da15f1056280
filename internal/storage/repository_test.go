package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/recurrence"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustAccount(t *testing.T, repo *SQLiteRepository, user string, balance int64) core.Account {
	t.Helper()
	a, err := repo.CreateAccount(context.Background(), core.Account{UserID: user, Name: user + "-checking", Balance: core.Money{Cents: balance}})
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	return a
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	if err := RunMigrations(path); err != nil {
		t.Fatalf("first RunMigrations() error = %v", err)
	}
	if err := RunMigrations(path); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
}

func TestDueRecurringTransactions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	acc := mustAccount(t, repo, "u1", 0)
	cat, err := repo.CreateCategory(ctx, core.Category{UserID: "u1", Name: "Rent"})
	if err != nil {
		t.Fatalf("CreateCategory() error = %v", err)
	}

	defs := []core.RecurringTransaction{
		{Description: "due later", NextDueDate: core.NewDate(2024, 3, 10), IsActive: true},
		{Description: "due", CategoryID: cat.ID, NextDueDate: core.NewDate(2024, 3, 4), IsActive: true},
		{Description: "due today", NextDueDate: core.NewDate(2024, 3, 5), IsActive: true},
		{Description: "inactive", NextDueDate: core.NewDate(2024, 3, 1), IsActive: false},
	}
	for _, d := range defs {
		d.AccountID = acc.ID
		d.Amount = core.Money{Cents: -1000}
		d.RecurrenceRule = "FREQ=WEEKLY"
		d.StartDate = core.NewDate(2024, 1, 1)
		if _, err := repo.CreateRecurringTransaction(ctx, d); err != nil {
			t.Fatalf("CreateRecurringTransaction(%s) error = %v", d.Description, err)
		}
	}

	now := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	due, err := repo.DueRecurringTransactions(ctx, now)
	if err != nil {
		t.Fatalf("DueRecurringTransactions() error = %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due definitions, got %d", len(due))
	}
	if due[0].Description != "due" || due[1].Description != "due today" {
		t.Errorf("unexpected order: %q, %q", due[0].Description, due[1].Description)
	}
	if due[0].UserID != "u1" {
		t.Errorf("expected user u1, got %q", due[0].UserID)
	}
	if due[0].CategoryName != "Rent" {
		t.Errorf("expected category Rent, got %q", due[0].CategoryName)
	}
	if due[1].CategoryName != "" {
		t.Errorf("expected empty category, got %q", due[1].CategoryName)
	}
	if !due[0].LastProcessedDate.IsEmpty() {
		t.Errorf("expected empty last processed date, got %s", due[0].LastProcessedDate)
	}
}

func TestDueRecurringTransfers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	from := mustAccount(t, repo, "alice", 10000)
	to := mustAccount(t, repo, "bob", 0)

	rt, err := repo.CreateRecurringTransfer(ctx, core.RecurringTransfer{
		FromAccountID:  from.ID,
		ToAccountID:    to.ID,
		Description:    "savings",
		Amount:         core.Money{Cents: 2500},
		RecurrenceRule: "FREQ=MONTHLY;BYMONTHDAY=1",
		StartDate:      core.NewDate(2024, 3, 1),
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("CreateRecurringTransfer() error = %v", err)
	}
	if rt.NextDueDate != rt.StartDate {
		t.Errorf("expected next due date to default to start, got %s", rt.NextDueDate)
	}

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"before start", time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC), 0},
		{"on due date", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 1},
		{"after due date", time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due, err := repo.DueRecurringTransfers(ctx, tt.now)
			if err != nil {
				t.Fatalf("DueRecurringTransfers() error = %v", err)
			}
			if len(due) != tt.want {
				t.Fatalf("expected %d due, got %d", tt.want, len(due))
			}
			if tt.want == 1 && (due[0].FromUserID != "alice" || due[0].ToUserID != "bob") {
				t.Errorf("unexpected users: %q -> %q", due[0].FromUserID, due[0].ToUserID)
			}
		})
	}
}

func TestWithinTxCommitsAndRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	acc := mustAccount(t, repo, "u1", 1000)

	err := repo.WithinTx(ctx, func(tx Tx) error {
		return tx.AdjustBalance(ctx, acc.ID, core.Money{Cents: 500})
	})
	if err != nil {
		t.Fatalf("WithinTx() error = %v", err)
	}

	boom := errors.New("boom")
	err = repo.WithinTx(ctx, func(tx Tx) error {
		if err := tx.AdjustBalance(ctx, acc.ID, core.Money{Cents: 9999}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := repo.GetAccount(ctx, acc.ID)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got.Balance.Cents != 1500 {
		t.Errorf("expected balance 1500, got %d", got.Balance.Cents)
	}
}

func TestAdjustBalanceUnknownAccount(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	err := repo.WithinTx(ctx, func(tx Tx) error {
		return tx.AdjustBalance(ctx, "missing", core.Money{Cents: 1})
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAdvanceRecurringTransactionCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	acc := mustAccount(t, repo, "u1", 0)
	rt, err := repo.CreateRecurringTransaction(ctx, core.RecurringTransaction{
		AccountID:      acc.ID,
		Description:    "gym",
		Amount:         core.Money{Cents: -3000},
		RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO",
		StartDate:      core.NewDate(2024, 3, 4),
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("CreateRecurringTransaction() error = %v", err)
	}

	due, next := core.NewDate(2024, 3, 4), core.NewDate(2024, 3, 11)
	if err := repo.WithinTx(ctx, func(tx Tx) error {
		return tx.AdvanceRecurringTransaction(ctx, rt.ID, due, next)
	}); err != nil {
		t.Fatalf("first advance error = %v", err)
	}

	err = repo.WithinTx(ctx, func(tx Tx) error {
		return tx.AdvanceRecurringTransaction(ctx, rt.ID, due, next)
	})
	if !errors.Is(err, ErrStaleDefinition) {
		t.Errorf("expected ErrStaleDefinition on repeated advance, got %v", err)
	}

	got, err := repo.GetRecurringTransaction(ctx, rt.ID)
	if err != nil {
		t.Fatalf("GetRecurringTransaction() error = %v", err)
	}
	if got.NextDueDate != next {
		t.Errorf("expected next due %s, got %s", next, got.NextDueDate)
	}
	if got.LastProcessedDate != due {
		t.Errorf("expected last processed %s, got %s", due, got.LastProcessedDate)
	}
}

func TestAdvanceRejectsNonIncreasingDate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	d := core.NewDate(2024, 3, 4)
	err := repo.WithinTx(ctx, func(tx Tx) error {
		return tx.AdvanceRecurringTransfer(ctx, "any", d, d)
	})
	if err == nil {
		t.Error("expected error when next due date does not move forward")
	}
}

func TestRecurringOccurrenceIsUnique(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	acc := mustAccount(t, repo, "u1", 0)
	rt, err := repo.CreateRecurringTransaction(ctx, core.RecurringTransaction{
		AccountID:      acc.ID,
		Description:    "rent",
		Amount:         core.Money{Cents: -90000},
		RecurrenceRule: "FREQ=MONTHLY",
		StartDate:      core.NewDate(2024, 1, 1),
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("CreateRecurringTransaction() error = %v", err)
	}

	tr := core.Transaction{
		AccountID:              acc.ID,
		Description:            rt.Description,
		Amount:                 rt.Amount,
		Date:                   rt.NextDueDate,
		RecurringTransactionID: rt.ID,
	}
	insert := func() error {
		return repo.WithinTx(ctx, func(tx Tx) error {
			_, err := tx.InsertTransaction(ctx, tr)
			return err
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert error = %v", err)
	}
	if err := insert(); err == nil {
		t.Error("expected duplicate occurrence to be rejected")
	}

	list, err := repo.ListTransactionsByRecurring(ctx, rt.ID)
	if err != nil {
		t.Fatalf("ListTransactionsByRecurring() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(list))
	}
}

func TestInsertTransferRejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	from := mustAccount(t, repo, "a", 0)
	to := mustAccount(t, repo, "b", 0)

	err := repo.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.InsertTransfer(ctx, core.Transfer{
			FromAccountID: from.ID,
			ToAccountID:   to.ID,
			Description:   "bad",
			Amount:        core.Money{Cents: -5},
			Date:          core.NewDate(2024, 1, 1),
		})
		return err
	})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	from := mustAccount(t, repo, "a", 0)
	to := mustAccount(t, repo, "b", 0)
	rt, err := repo.CreateRecurringTransfer(ctx, core.RecurringTransfer{
		FromAccountID:  from.ID,
		ToAccountID:    to.ID,
		Description:    "allowance",
		Amount:         core.Money{Cents: 100},
		RecurrenceRule: "FREQ=WEEKLY",
		StartDate:      core.NewDate(2024, 1, 1),
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("CreateRecurringTransfer() error = %v", err)
	}

	if err := repo.DeactivateRecurringTransfer(ctx, rt.ID); err != nil {
		t.Fatalf("DeactivateRecurringTransfer() error = %v", err)
	}
	got, err := repo.GetRecurringTransfer(ctx, rt.ID)
	if err != nil {
		t.Fatalf("GetRecurringTransfer() error = %v", err)
	}
	if got.IsActive {
		t.Error("expected definition to be inactive")
	}

	due, err := repo.DueRecurringTransfers(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DueRecurringTransfers() error = %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected no due transfers, got %d", len(due))
	}

	if err := repo.DeactivateRecurringTransaction(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if _, err := repo.GetAccount(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAccount: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetRecurringTransaction(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRecurringTransaction: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetRecurringTransfer(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRecurringTransfer: expected ErrNotFound, got %v", err)
	}
}

func TestCreateRecurringDefaultsToFirstOccurrence(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	acc := mustAccount(t, repo, "u1", 0)
	other := mustAccount(t, repo, "u2", 0)

	tests := []struct {
		name  string
		rule  string
		start core.Date
		want  core.Date
	}{
		{"start on the grid", "FREQ=WEEKLY;BYDAY=MO", core.NewDate(2024, 3, 4), core.NewDate(2024, 3, 4)},
		{"wednesday start, monday rule", "FREQ=WEEKLY;BYDAY=MO", core.NewDate(2024, 3, 6), core.NewDate(2024, 3, 11)},
		{"day of month after start day", "FREQ=MONTHLY;BYMONTHDAY=20", core.NewDate(2024, 3, 6), core.NewDate(2024, 3, 20)},
		{"day of month before start day", "FREQ=MONTHLY;BYMONTHDAY=1", core.NewDate(2024, 3, 6), core.NewDate(2024, 4, 1)},
		{"last friday", "FREQ=MONTHLY;BYDAY=-1FR", core.NewDate(2024, 3, 1), core.NewDate(2024, 3, 29)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := repo.CreateRecurringTransaction(ctx, core.RecurringTransaction{
				AccountID:      acc.ID,
				Description:    tt.name,
				Amount:         core.Money{Cents: -500},
				RecurrenceRule: tt.rule,
				StartDate:      tt.start,
				IsActive:       true,
			})
			if err != nil {
				t.Fatalf("CreateRecurringTransaction() error = %v", err)
			}
			if rt.NextDueDate != tt.want {
				t.Errorf("transaction next due date = %s, want %s", rt.NextDueDate, tt.want)
			}

			tr, err := repo.CreateRecurringTransfer(ctx, core.RecurringTransfer{
				FromAccountID:  acc.ID,
				ToAccountID:    other.ID,
				Description:    tt.name,
				Amount:         core.Money{Cents: 500},
				RecurrenceRule: tt.rule,
				StartDate:      tt.start,
				IsActive:       true,
			})
			if err != nil {
				t.Fatalf("CreateRecurringTransfer() error = %v", err)
			}
			if tr.NextDueDate != tt.want {
				t.Errorf("transfer next due date = %s, want %s", tr.NextDueDate, tt.want)
			}
		})
	}
}

func TestCreateRecurringRejectsRuleWithoutFirstOccurrence(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	acc := mustAccount(t, repo, "u1", 0)
	other := mustAccount(t, repo, "u2", 0)

	tests := []struct {
		name string
		rule string
	}{
		{"until before first match", "FREQ=WEEKLY;BYDAY=MO;UNTIL=20240308"},
		{"unsupported frequency", "FREQ=DAILY"},
		{"unparseable", "every monday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.CreateRecurringTransaction(ctx, core.RecurringTransaction{
				AccountID:      acc.ID,
				Description:    tt.name,
				Amount:         core.Money{Cents: -500},
				RecurrenceRule: tt.rule,
				StartDate:      core.NewDate(2024, 3, 6),
				IsActive:       true,
			})
			if !errors.Is(err, recurrence.ErrMalformedRule) {
				t.Errorf("CreateRecurringTransaction() error = %v, want ErrMalformedRule", err)
			}

			_, err = repo.CreateRecurringTransfer(ctx, core.RecurringTransfer{
				FromAccountID:  acc.ID,
				ToAccountID:    other.ID,
				Description:    tt.name,
				Amount:         core.Money{Cents: 500},
				RecurrenceRule: tt.rule,
				StartDate:      core.NewDate(2024, 3, 6),
				IsActive:       true,
			})
			if !errors.Is(err, recurrence.ErrMalformedRule) {
				t.Errorf("CreateRecurringTransfer() error = %v, want ErrMalformedRule", err)
			}
		})
	}
}

func TestCreateRecurringKeepsExplicitNextDueDate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	acc := mustAccount(t, repo, "u1", 0)

	rt, err := repo.CreateRecurringTransaction(ctx, core.RecurringTransaction{
		AccountID:      acc.ID,
		Description:    "imported",
		Amount:         core.Money{Cents: -500},
		RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO",
		StartDate:      core.NewDate(2024, 1, 1),
		NextDueDate:    core.NewDate(2024, 3, 4),
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("CreateRecurringTransaction() error = %v", err)
	}
	got, err := repo.GetRecurringTransaction(ctx, rt.ID)
	if err != nil {
		t.Fatalf("GetRecurringTransaction() error = %v", err)
	}
	if got.NextDueDate != core.NewDate(2024, 3, 4) {
		t.Errorf("next due date = %s, want 2024-03-04", got.NextDueDate)
	}
}
