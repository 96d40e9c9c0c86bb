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

// LabHandler exposes lab management for owners and browsing for everyone.
type LabHandler struct {
	Labs *repository.LabRepo
}

func NewLabHandler(labs *repository.LabRepo) *LabHandler {
	if labs == nil {
		panic("nil repository passed to NewLabHandler")
	}
	return &LabHandler{Labs: labs}
}

type labReq struct {
	Name            string  `json:"name"`
	Description     *string `json:"description"`
	HourlyRateCents uint64  `json:"hourly_rate_cents"`
	IsListed        bool    `json:"is_listed"`
}

type labView struct {
	ID              uint64  `json:"id"`
	Owner           string  `json:"owner,omitempty"`
	Name            string  `json:"name"`
	Description     *string `json:"description,omitempty"`
	HourlyRateCents uint64  `json:"hourly_rate_cents"`
	IsListed        bool    `json:"is_listed"`
}

func labViewOf(l *model.Lab, includeOwner bool) labView {
	v := labView{
		ID:              l.ID,
		Name:            l.Name,
		Description:     l.Description,
		HourlyRateCents: l.HourlyRateCents,
		IsListed:        l.IsListed,
	}
	if includeOwner {
		v.Owner = l.OwnerAccount
	}
	return v
}

// Create registers a new lab owned by the caller.
func (h *LabHandler) Create(c echo.Context) error {
	var req labReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	l := &model.Lab{
		OwnerAccount:    callerAccount(c),
		Name:            req.Name,
		Description:     req.Description,
		HourlyRateCents: req.HourlyRateCents,
		IsListed:        req.IsListed,
	}
	if err := h.Labs.Create(ctx, l); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "lab name already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create lab failed"})
	}
	return c.JSON(http.StatusCreated, labViewOf(l, true))
}

// ListMine returns all labs owned by the caller, listed or not.
func (h *LabHandler) ListMine(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	labs, err := h.Labs.ListByOwner(ctx, callerAccount(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]labView, len(labs))
	for i, l := range labs {
		out[i] = labViewOf(l, true)
	}
	return c.JSON(http.StatusOK, out)
}

// Update changes name, description and hourly rate.
func (h *LabHandler) Update(c echo.Context) error {
	id, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	var req labReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Labs.Update(ctx, id, callerAccount(c), req.Name, req.Description, req.HourlyRateCents)
	return h.ownerOpResult(c, err)
}

type listReq struct {
	Listed bool `json:"listed"`
}

// SetListed flips the listing flag. Delisting stops new confirmations but
// leaves confirmed reservations untouched.
func (h *LabHandler) SetListed(c echo.Context) error {
	id, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	var req listReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Labs.SetListed(ctx, id, callerAccount(c), req.Listed)
	return h.ownerOpResult(c, err)
}

type transferReq struct {
	NewOwner string `json:"new_owner"`
}

// Transfer moves the lab to another owner account. Future confirmations
// and collections resolve the new owner immediately.
func (h *LabHandler) Transfer(c echo.Context) error {
	id, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	var req transferReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.NewOwner) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "new_owner required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Labs.TransferOwnership(ctx, id, callerAccount(c), strings.TrimSpace(req.NewOwner))
	return h.ownerOpResult(c, err)
}

func (h *LabHandler) ownerOpResult(c echo.Context, err error) error {
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, repository.ErrLabNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "lab not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
}

// Browse returns every listed lab without owner details. Public.
func (h *LabHandler) Browse(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	labs, err := h.Labs.ListAll(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]labView, len(labs))
	for i, l := range labs {
		out[i] = labViewOf(l, false)
	}
	return c.JSON(http.StatusOK, out)
}

// Get returns a single lab. Public; the owner account is omitted.
func (h *LabHandler) Get(c echo.Context) error {
	id, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	l, err := h.Labs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLabNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "lab not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, labViewOf(l, false))
}
