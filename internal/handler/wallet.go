package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/decentralabs/lab-reservation/internal/model"
	"github.com/decentralabs/lab-reservation/internal/repository"
)

// WalletHandler exposes account balances and delegated budgets.
type WalletHandler struct {
	Accounts *repository.AccountRepo
	Budgets  *repository.BudgetRepo
}

func NewWalletHandler(a *repository.AccountRepo, b *repository.BudgetRepo) *WalletHandler {
	if a == nil || b == nil {
		panic("nil repository passed to NewWalletHandler")
	}
	return &WalletHandler{Accounts: a, Budgets: b}
}

// Balance returns the caller's account balance.
func (h *WalletHandler) Balance(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	a, err := h.Accounts.Get(ctx, callerAccount(c))
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return c.JSON(http.StatusOK, echo.Map{"account": callerAccount(c), "balance_cents": 0})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"account": a.AccountID, "balance_cents": a.BalanceCents})
}

type depositReq struct {
	AmountCents uint64 `json:"amount_cents"`
}

// Deposit credits the caller's account. Stands in for the payment
// processor integration.
func (h *WalletHandler) Deposit(c echo.Context) error {
	var req depositReq
	if err := c.Bind(&req); err != nil || req.AmountCents == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount_cents required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Accounts.Deposit(ctx, callerAccount(c), req.AmountCents); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "deposit failed"})
	}
	return h.Balance(c)
}

type budgetReq struct {
	PeriodStart   uint32 `json:"period_start"`
	PeriodSeconds uint32 `json:"period_seconds"`
	LimitCents    uint64 `json:"limit_cents"`
}

// UpsertBudget creates or replaces a spending budget for one of the
// caller's sub identifiers. Replacing resets the spent amount.
func (h *WalletHandler) UpsertBudget(c echo.Context) error {
	subID := strings.TrimSpace(c.Param("sub_id"))
	if subID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sub_id required"})
	}
	var req budgetReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.PeriodSeconds == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "period_seconds required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	b := &model.Budget{
		Delegator:     callerAccount(c),
		SubID:         subID,
		PeriodStart:   req.PeriodStart,
		PeriodSeconds: req.PeriodSeconds,
		LimitCents:    req.LimitCents,
	}
	if err := h.Budgets.Upsert(ctx, b); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save budget failed"})
	}
	return c.JSON(http.StatusOK, b)
}

// GetBudget returns one of the caller's budgets.
func (h *WalletHandler) GetBudget(c echo.Context) error {
	subID := strings.TrimSpace(c.Param("sub_id"))
	if subID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sub_id required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	b, err := h.Budgets.Get(ctx, callerAccount(c), subID)
	if err != nil {
		if errors.Is(err, repository.ErrBudgetNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "budget not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, b)
}

// DeleteBudget removes one of the caller's budgets. Reservations already
// confirmed against it are unaffected.
func (h *WalletHandler) DeleteBudget(c echo.Context) error {
	subID := strings.TrimSpace(c.Param("sub_id"))
	if subID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sub_id required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Budgets.Delete(ctx, callerAccount(c), subID); err != nil {
		if errors.Is(err, repository.ErrBudgetNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "budget not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
