package model

import "time"

// Account mirrors the `accounts` table.  Accounts hold the spendable
// balance for requesters, lab owners, the escrow account that parks funds
// between confirmation and collection, and the platform treasury.
//
// Fields:
//  AccountID    – opaque account identifier (wallet address equivalent).
//  BalanceCents – current spendable balance.
//  CreatedAt    – creation timestamp.
//  UpdatedAt    – last update timestamp.
type Account struct {
	AccountID    string    // accounts.account_id
	BalanceCents uint64    // accounts.balance_cents
	CreatedAt    time.Time // accounts.created_at
	UpdatedAt    time.Time // accounts.updated_at
}

// Budget mirrors the `delegated_budgets` table.  A budget lets an
// institution pay for reservations made by its end users, identified by a
// sub identifier, under a rolling spending period.  Spending resets when
// the period rolls over; the engine snapshots the period at request time
// and refuses to confirm against a different period.
//
// Fields:
//  Delegator     – institutional account that pays.
//  SubID         – end user behind the delegator.
//  PeriodStart   – start of the current spending period (Unix seconds).
//  PeriodSeconds – period length; the period rolls forward in whole
//                  multiples of this value.
//  LimitCents    – maximum spend per period.
//  SpentCents    – amount spent in the current period.
type Budget struct {
	Delegator     string    // delegated_budgets.delegator
	SubID         string    // delegated_budgets.sub_id
	PeriodStart   uint32    // delegated_budgets.period_start
	PeriodSeconds uint32    // delegated_budgets.period_seconds
	LimitCents    uint64    // delegated_budgets.limit_cents
	SpentCents    uint64    // delegated_budgets.spent_cents
	CreatedAt     time.Time // delegated_budgets.created_at
	UpdatedAt     time.Time // delegated_budgets.updated_at
}

// CurrentPeriodStart returns the start of the period containing now,
// rolling PeriodStart forward in whole periods.  When now precedes the
// configured start, the configured start is returned unchanged.
func (b *Budget) CurrentPeriodStart(now uint32) uint32 {
	if b.PeriodSeconds == 0 || now <= b.PeriodStart {
		return b.PeriodStart
	}
	elapsed := now - b.PeriodStart
	return b.PeriodStart + (elapsed/b.PeriodSeconds)*b.PeriodSeconds
}
