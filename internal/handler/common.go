// Package handler contains the HTTP layer: request parsing, identity
// checks and translation of engine/repository errors into status codes.
// Business rules live in the engine; handlers never mutate reservation
// state directly.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/decentralabs/lab-reservation/internal/engine"
	"github.com/decentralabs/lab-reservation/internal/model"
	"github.com/decentralabs/lab-reservation/internal/repository"
)

// callerAccount returns the balance account of the authenticated caller.
func callerAccount(c echo.Context) string {
	acct, _ := c.Get("account").(string)
	return acct
}

// isAdmin reports whether the caller holds the ADMIN role.
func isAdmin(c echo.Context) bool {
	role, _ := c.Get("role").(string)
	return role == repository.RoleAdmin
}

// paramUint64 parses a numeric path parameter.
func paramUint64(c echo.Context, name string) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	return n, err == nil
}

// paramKey parses a reservation key path parameter.
func paramKey(c echo.Context) (model.ReservationKey, bool) {
	return model.ParseReservationKey(c.Param("key"))
}

// queryUint32 parses an optional uint32 query parameter, returning def
// when absent or malformed.
func queryUint32(c echo.Context, name string, def uint32) uint32 {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return def
	}
	return uint32(n)
}

// queryInt parses an optional int query parameter.
func queryInt(c echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// engineError maps engine sentinels onto HTTP responses. Unknown errors
// become 500 without leaking internals.
func engineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, engine.ErrInvalidRange):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid time range"})
	case errors.Is(err, engine.ErrLabNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "lab not found"})
	case errors.Is(err, engine.ErrLabNotListed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "lab not listed"})
	case errors.Is(err, engine.ErrSlotUnavailable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "slot unavailable"})
	case errors.Is(err, engine.ErrCapExceeded):
		return c.JSON(http.StatusConflict, echo.Map{"error": "active reservation cap reached"})
	case errors.Is(err, engine.ErrInsufficientFunds):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "insufficient funds"})
	case errors.Is(err, engine.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, engine.ErrReservationNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	case errors.Is(err, engine.ErrWrongStatus):
		return c.JSON(http.StatusConflict, echo.Map{"error": "wrong reservation status"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// reservationView is the wire shape of a reservation record.
type reservationView struct {
	Key        string       `json:"key"`
	LabID      uint64       `json:"lab_id"`
	Payer      string       `json:"payer"`
	SubID      string       `json:"sub_id,omitempty"`
	Owner      string       `json:"owner,omitempty"`
	Start      uint32       `json:"start"`
	End        uint32       `json:"end"`
	PriceCents uint64       `json:"price_cents"`
	Status     model.Status `json:"status"`
}

func viewOf(r model.Reservation) reservationView {
	return reservationView{
		Key:        r.Key().String(),
		LabID:      r.LabID,
		Payer:      r.Payer,
		SubID:      r.SubID,
		Owner:      r.OwnerAtBooking,
		Start:      r.Start,
		End:        r.End,
		PriceCents: r.PriceCents,
		Status:     r.Status,
	}
}

func viewsOf(rs []model.Reservation) []reservationView {
	out := make([]reservationView, len(rs))
	for i, r := range rs {
		out[i] = viewOf(r)
	}
	return out
}
