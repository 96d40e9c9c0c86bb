package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBudgetTestRepo(t *testing.T) (*BudgetRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	accounts := NewAccountRepo(db)
	return NewBudgetRepo(db, accounts, func() uint32 { return 1_000_000 }), mock
}

func budgetRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"delegator", "sub_id", "period_start", "period_seconds",
		"limit_cents", "spent_cents", "created_at", "updated_at",
	}).AddRow("uni", "student-7", 900_000, 1_000_000, 50_000, 0, time.Now(), time.Now())
}

func TestSpendChargesBudgetAndMovesFundsAtomically(t *testing.T) {
	repo, mock := newBudgetTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT delegator, sub_id, .* FOR UPDATE").WillReturnRows(budgetRow())
	mock.ExpectExec("UPDATE delegated_budgets").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT balance_cents FROM accounts .* FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(10_000))
	mock.ExpectExec("UPDATE accounts SET balance_cents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO accounts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Spend(context.Background(), "uni", "student-7", 1_000))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpendRollsBackBudgetChargeWhenFundsMissing(t *testing.T) {
	repo, mock := newBudgetTestRepo(t)

	// The budget has headroom but the delegator's balance does not. The
	// whole transaction must roll back: spent_cents never commits without
	// the matching fund move.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT delegator, sub_id, .* FOR UPDATE").WillReturnRows(budgetRow())
	mock.ExpectExec("UPDATE delegated_budgets").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT balance_cents FROM accounts .* FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(500))
	mock.ExpectRollback()

	err := repo.Spend(context.Background(), "uni", "student-7", 1_000)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSpendRejectsOverLimitWithoutTouchingAccounts(t *testing.T) {
	repo, mock := newBudgetTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT delegator, sub_id, .* FOR UPDATE").WillReturnRows(budgetRow())
	mock.ExpectRollback()

	err := repo.Spend(context.Background(), "uni", "student-7", 60_000)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundCreditsBudgetAndReturnsFundsAtomically(t *testing.T) {
	repo, mock := newBudgetTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE delegated_budgets").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT balance_cents FROM accounts .* FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(1_000))
	mock.ExpectExec("UPDATE accounts SET balance_cents").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO accounts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Refund(context.Background(), "uni", "student-7", 1_000))
	assert.NoError(t, mock.ExpectationsWereMet())
}
