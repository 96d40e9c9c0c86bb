// Package repository contains the data access layer: labs, accounts,
// delegated budgets, users and refresh tokens live in MySQL, while the
// reservation records themselves are owned by the in-memory engine.  The
// sentinel errors defined here are shared across repositories so handlers
// can translate failure scenarios into HTTP responses without inspecting
// driver errors.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own. Handlers should translate this into an HTTP
// 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an operation cannot proceed because of
// conflicting state, such as registering a lab name the owner already
// uses. Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrInsufficientFunds is returned when a balance transfer would
// overdraw the paying account. Handlers should translate this into an
// HTTP 402 response.
var ErrInsufficientFunds = errors.New("insufficient funds")
