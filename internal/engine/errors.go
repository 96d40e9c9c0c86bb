// Package engine implements the reservation scheduling and accounting core:
// the per-lab interval calendar, the per-(lab, tracking key) active
// reservation index, the per-lab payout eligibility queue, the bounded
// history buffers, and the state machine that keeps them consistent.
//
// Every exported entry point runs as one all-or-nothing transaction under
// the engine mutex: precondition checks complete before the first index
// write, and external fund transfers happen only after all state mutation.
package engine

import "errors"

// Precondition violations.  These are rejected synchronously before any
// state mutation and translate to HTTP 4xx responses in the handlers.
var (
	ErrInvalidRange      = errors.New("invalid time range")
	ErrLabNotFound       = errors.New("lab not found")
	ErrLabNotListed      = errors.New("lab not listed")
	ErrSlotUnavailable   = errors.New("slot not available")
	ErrCapExceeded       = errors.New("active reservation cap exceeded")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Authorization and lookup failures.
var (
	ErrForbidden           = errors.New("forbidden")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrWrongStatus         = errors.New("reservation in wrong status")
)
