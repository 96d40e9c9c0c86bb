// This file defines repository methods for account balances and the fund
// ledger the reservation engine draws on. Funds collected at confirmation
// are parked on a dedicated escrow account until the lab owner collects
// or the payer is refunded, so the engine itself never holds money.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/decentralabs/lab-reservation/internal/model"
)

// EscrowAccount is the reserved account id funds are parked on between
// confirmation and collection. It is created by the schema migration and
// must never be used as a payer.
const EscrowAccount = "__escrow__"

// ErrAccountNotFound is returned when an account cannot be found in the DB.
var ErrAccountNotFound = errors.New("account not found")

// AccountRepo encapsulates all database queries related to account
// balances.
type AccountRepo struct {
	db *sql.DB
}

// NewAccountRepo constructs an AccountRepo with the provided DB handle.
func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Ensure creates the account row if it does not exist yet. Safe to call
// on every login.
func (r *AccountRepo) Ensure(ctx context.Context, accountID string) error {
	const q = "INSERT IGNORE INTO accounts (account_id, balance_cents) VALUES (?, 0)"
	_, err := r.db.ExecContext(ctx, q, accountID)
	return err
}

// Get fetches an account by id. It returns ErrAccountNotFound if no row
// is found.
func (r *AccountRepo) Get(ctx context.Context, accountID string) (*model.Account, error) {
	const q = `SELECT account_id, balance_cents, created_at, updated_at
	           FROM accounts WHERE account_id = ?`
	var a model.Account
	err := r.db.QueryRowContext(ctx, q, accountID).Scan(&a.AccountID, &a.BalanceCents, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Deposit credits an account. Used by the top-up endpoint.
func (r *AccountRepo) Deposit(ctx context.Context, accountID string, amountCents uint64) error {
	if err := r.Ensure(ctx, accountID); err != nil {
		return err
	}
	const q = `UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = CURRENT_TIMESTAMP
	           WHERE account_id = ?`
	_, err := r.db.ExecContext(ctx, q, amountCents, accountID)
	return err
}

// Available reports whether the payer can cover amountCents. It is a pure
// read: request-time checks must not move funds.
func (r *AccountRepo) Available(ctx context.Context, payer string, amountCents uint64) (bool, error) {
	var balance uint64
	err := r.db.QueryRowContext(ctx,
		"SELECT balance_cents FROM accounts WHERE account_id = ?", payer).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return balance >= amountCents, nil
}

// moveInTx shifts amountCents from one account to another inside the
// caller's transaction. The debit row is locked first and the balance
// re-checked under the lock, so two concurrent confirmations cannot
// overdraw. BudgetRepo joins fund moves with its budget charge through
// this method so both commit or roll back together.
func (r *AccountRepo) moveInTx(ctx context.Context, tx *sql.Tx, from, to string, amountCents uint64) error {
	var balance uint64
	err := tx.QueryRowContext(ctx,
		"SELECT balance_cents FROM accounts WHERE account_id = ? FOR UPDATE", from).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	if balance < amountCents {
		return ErrInsufficientFunds
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE accounts SET balance_cents = balance_cents - ?, updated_at = CURRENT_TIMESTAMP WHERE account_id = ?",
		amountCents, from); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO accounts (account_id, balance_cents) VALUES (?, ?) "+
			"ON DUPLICATE KEY UPDATE balance_cents = balance_cents + VALUES(balance_cents), updated_at = CURRENT_TIMESTAMP",
		to, amountCents); err != nil {
		return err
	}
	return nil
}

// move runs moveInTx in its own transaction.
func (r *AccountRepo) move(ctx context.Context, from, to string, amountCents uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	if err := r.moveInTx(ctx, tx, from, to, amountCents); err != nil {
		return err
	}
	return tx.Commit()
}

// TransferFrom pulls amountCents from the payer into escrow. Called by
// the engine exactly once per confirmed reservation.
func (r *AccountRepo) TransferFrom(ctx context.Context, payer string, amountCents uint64) error {
	if amountCents == 0 {
		return nil
	}
	return r.move(ctx, payer, EscrowAccount, amountCents)
}

// Transfer pays amountCents out of escrow to recipient. Used for both
// owner payouts and payer refunds.
func (r *AccountRepo) Transfer(ctx context.Context, recipient string, amountCents uint64) error {
	if amountCents == 0 {
		return nil
	}
	return r.move(ctx, EscrowAccount, recipient, amountCents)
}
