// This file defines repository methods for delegated budgets: an
// institutional account funds reservations made by its end users under a
// rolling per-period spending limit. The engine snapshots the period at
// request time and calls Spend only when that snapshot is still current.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/decentralabs/lab-reservation/internal/model"
)

// ErrBudgetNotFound is returned when no budget row exists for the
// (delegator, subID) pair.
var ErrBudgetNotFound = errors.New("budget not found")

// BudgetRepo encapsulates all database queries related to delegated
// budgets. It shares the accounts table with AccountRepo: the actual
// funds always come from the delegator's account balance, the budget row
// only limits how much of it each sub identifier may use per period.
type BudgetRepo struct {
	db       *sql.DB
	accounts *AccountRepo
	now      func() uint32
}

// NewBudgetRepo constructs a BudgetRepo. The clock is injectable so tests
// can pin the spending period.
func NewBudgetRepo(db *sql.DB, accounts *AccountRepo, now func() uint32) *BudgetRepo {
	if now == nil {
		now = func() uint32 { return uint32(time.Now().Unix()) }
	}
	return &BudgetRepo{db: db, accounts: accounts, now: now}
}

const budgetColumns = "delegator, sub_id, period_start, period_seconds, limit_cents, spent_cents, created_at, updated_at"

// Upsert creates or replaces the budget for a (delegator, subID) pair.
// Replacing resets the spent amount.
func (r *BudgetRepo) Upsert(ctx context.Context, b *model.Budget) error {
	const q = `INSERT INTO delegated_budgets (delegator, sub_id, period_start, period_seconds, limit_cents, spent_cents)
	           VALUES (?, ?, ?, ?, ?, 0)
	           ON DUPLICATE KEY UPDATE period_start = VALUES(period_start),
	               period_seconds = VALUES(period_seconds),
	               limit_cents = VALUES(limit_cents),
	               spent_cents = 0,
	               updated_at = CURRENT_TIMESTAMP`
	_, err := r.db.ExecContext(ctx, q, b.Delegator, b.SubID, b.PeriodStart, b.PeriodSeconds, b.LimitCents)
	return err
}

// Get fetches the budget for a (delegator, subID) pair.
func (r *BudgetRepo) Get(ctx context.Context, delegator, subID string) (*model.Budget, error) {
	const q = "SELECT " + budgetColumns + " FROM delegated_budgets WHERE delegator = ? AND sub_id = ?"
	var b model.Budget
	err := r.db.QueryRowContext(ctx, q, delegator, subID).Scan(
		&b.Delegator, &b.SubID, &b.PeriodStart, &b.PeriodSeconds,
		&b.LimitCents, &b.SpentCents, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBudgetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Delete removes the budget for a (delegator, subID) pair.
func (r *BudgetRepo) Delete(ctx context.Context, delegator, subID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM delegated_budgets WHERE delegator = ? AND sub_id = ?", delegator, subID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

// CheckAvailability reports whether the (delegator, subID) budget can
// cover amountCents right now and returns the current period window so
// the engine can snapshot it. A missing budget or an overdrawn delegator
// account is reported as not-ok, not as an error.
func (r *BudgetRepo) CheckAvailability(ctx context.Context, delegator, subID string, amountCents uint64) (uint32, uint32, bool, error) {
	b, err := r.Get(ctx, delegator, subID)
	if errors.Is(err, ErrBudgetNotFound) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}

	cur := b.CurrentPeriodStart(r.now())
	spent := b.SpentCents
	if cur != b.PeriodStart {
		// The stored period has lapsed; spending resets on rollover.
		spent = 0
	}
	if spent+amountCents > b.LimitCents {
		return cur, b.PeriodSeconds, false, nil
	}
	ok, err := r.accounts.Available(ctx, delegator, amountCents)
	return cur, b.PeriodSeconds, ok, err
}

// Spend charges amountCents against the budget and moves the funds from
// the delegator's account into escrow, all in one transaction: a failed
// fund move rolls the budget charge back with it. The budget row is
// locked, rolled into the current period if needed and re-checked under
// the lock.
func (r *BudgetRepo) Spend(ctx context.Context, delegator, subID string, amountCents uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	const q = "SELECT " + budgetColumns + " FROM delegated_budgets WHERE delegator = ? AND sub_id = ? FOR UPDATE"
	var b model.Budget
	err = tx.QueryRowContext(ctx, q, delegator, subID).Scan(
		&b.Delegator, &b.SubID, &b.PeriodStart, &b.PeriodSeconds,
		&b.LimitCents, &b.SpentCents, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBudgetNotFound
	}
	if err != nil {
		return err
	}

	cur := b.CurrentPeriodStart(r.now())
	spent := b.SpentCents
	if cur != b.PeriodStart {
		spent = 0
	}
	if spent+amountCents > b.LimitCents {
		return ErrInsufficientFunds
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE delegated_budgets
		 SET period_start = ?, spent_cents = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE delegator = ? AND sub_id = ?`,
		cur, spent+amountCents, delegator, subID); err != nil {
		return err
	}
	if err = r.accounts.moveInTx(ctx, tx, delegator, EscrowAccount, amountCents); err != nil {
		return err
	}
	return tx.Commit()
}

// Refund returns amountCents from escrow to the delegator and credits the
// budget back when the reservation's period is still current, in one
// transaction. A refund that lands after the period rolled over does not
// resurrect last period's allowance.
func (r *BudgetRepo) Refund(ctx context.Context, delegator, subID string, amountCents uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	const q = `UPDATE delegated_budgets
	           SET spent_cents = CASE WHEN spent_cents >= ? THEN spent_cents - ? ELSE 0 END,
	               updated_at = CURRENT_TIMESTAMP
	           WHERE delegator = ? AND sub_id = ?
	             AND period_start + period_seconds > ?`
	if _, err := tx.ExecContext(ctx, q, amountCents, amountCents, delegator, subID, r.now()); err != nil {
		return err
	}
	if err := r.accounts.moveInTx(ctx, tx, EscrowAccount, delegator, amountCents); err != nil {
		return err
	}
	return tx.Commit()
}
