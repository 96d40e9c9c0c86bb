package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/decentralabs/lab-reservation/internal/engine"
	"github.com/decentralabs/lab-reservation/internal/model"
	"github.com/decentralabs/lab-reservation/internal/queue"
	"github.com/decentralabs/lab-reservation/internal/repository"
	publisher "github.com/decentralabs/lab-reservation/internal/service"
)

// ReservationHandler exposes the reservation lifecycle. Every mutation is
// one engine transaction; on success the handler fires a broker event in
// the background and never fails the request over a broker problem.
type ReservationHandler struct {
	Engine *engine.Engine
	Labs   *repository.LabRepo
}

func NewReservationHandler(eng *engine.Engine, labs *repository.LabRepo) *ReservationHandler {
	if eng == nil || labs == nil {
		panic("nil dependency passed to NewReservationHandler")
	}
	return &ReservationHandler{Engine: eng, Labs: labs}
}

func (h *ReservationHandler) publish(eventType string, r model.Reservation) {
	ev := queue.ReservationEvent{
		Type:           eventType,
		ReservationKey: r.Key().String(),
		LabID:          r.LabID,
		Owner:          r.OwnerAtBooking,
		Payer:          r.Payer,
		SubID:          r.SubID,
		Start:          r.Start,
		End:            r.End,
		PriceCents:     r.PriceCents,
		OccurredAt:     time.Now().UTC().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if lab, err := h.Labs.GetByID(ctx, ev.LabID); err == nil {
			ev.LabName = lab.Name
		}
		_ = publisher.PublishReservationEvent(ctx, ev)
	}()
}

type requestReq struct {
	LabID uint64 `json:"lab_id"`
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
	SubID string `json:"sub_id"` // set for delegated reservations
}

// Request places a PENDING reservation for the caller's account. No funds
// move and no calendar slot is blocked until the owner confirms.
func (h *ReservationHandler) Request(c echo.Context) error {
	var req requestReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	key, r, err := h.Engine.Request(c.Request().Context(),
		req.LabID, req.Start, req.End, callerAccount(c), strings.TrimSpace(req.SubID))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"key":         key.String(),
		"reservation": viewOf(r),
	})
}

// Confirm funds and activates a PENDING reservation. A denial (no funds,
// slot taken, stale budget period) is a 200 with denied=true, not an
// error: owners batch-confirm and need per-item outcomes.
func (h *ReservationHandler) Confirm(c echo.Context) error {
	key, ok := paramKey(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation key"})
	}
	res, err := h.Engine.Confirm(c.Request().Context(), key)
	if err != nil {
		return engineError(c, err)
	}
	if res.Denied {
		h.publish(queue.EventCancelled, res.Reservation)
		return c.JSON(http.StatusOK, echo.Map{
			"denied":      true,
			"reason":      res.Reason,
			"reservation": viewOf(res.Reservation),
		})
	}
	h.publish(queue.EventConfirmed, res.Reservation)
	return c.JSON(http.StatusOK, echo.Map{
		"denied":      false,
		"reservation": viewOf(res.Reservation),
	})
}

// Deny rejects a PENDING reservation. Owner of the lab or admin only.
func (h *ReservationHandler) Deny(c echo.Context) error {
	key, ok := paramKey(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation key"})
	}
	r, err := h.Engine.Deny(c.Request().Context(), key, callerAccount(c), isAdmin(c))
	if err != nil {
		return engineError(c, err)
	}
	h.publish(queue.EventCancelled, r)
	return c.JSON(http.StatusOK, viewOf(r))
}

// Cancel withdraws a reservation. PENDING cancels without refund (nothing
// was collected); CONFIRMED and IN_USE cancel with a full refund.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	key, ok := paramKey(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation key"})
	}
	rec, found := h.Engine.GetReservation(key)
	if !found {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	}

	var (
		r   model.Reservation
		err error
	)
	if rec.Status == model.StatusPending {
		r, err = h.Engine.CancelPending(c.Request().Context(), key, callerAccount(c), isAdmin(c))
	} else {
		r, err = h.Engine.CancelConfirmed(c.Request().Context(), key, callerAccount(c), isAdmin(c))
	}
	if err != nil {
		return engineError(c, err)
	}
	h.publish(queue.EventCancelled, r)
	return c.JSON(http.StatusOK, viewOf(r))
}

// CheckIn marks a CONFIRMED reservation as IN_USE once its slot started.
func (h *ReservationHandler) CheckIn(c echo.Context) error {
	key, ok := paramKey(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation key"})
	}
	r, err := h.Engine.MarkInUse(c.Request().Context(), key, callerAccount(c), isAdmin(c))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(r))
}

// Complete finishes usage. The record stays collectible for the owner.
func (h *ReservationHandler) Complete(c echo.Context) error {
	key, ok := paramKey(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation key"})
	}
	r, err := h.Engine.MarkCompleted(c.Request().Context(), key, callerAccount(c), isAdmin(c))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(r))
}

type releaseReq struct {
	SubID    string `json:"sub_id"`
	MaxBatch int    `json:"max_batch"`
}

// ReleaseExpired frees the caller's cap slots for reservations whose end
// has passed. The owner's payouts stay claimable.
func (h *ReservationHandler) ReleaseExpired(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	var req releaseReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	released := h.Engine.ReleaseExpired(labID, callerAccount(c), strings.TrimSpace(req.SubID), req.MaxBatch)
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

type collectReq struct {
	MaxBatch int `json:"max_batch"`
}

// Collect settles matured reservations for the lab into the owner's
// account.
func (h *ReservationHandler) Collect(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	var req collectReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	res, err := h.Engine.Collect(c.Request().Context(), labID, callerAccount(c), isAdmin(c), req.MaxBatch)
	if err != nil {
		return engineError(c, err)
	}
	if res.Collected > 0 {
		ev := queue.ReservationEvent{
			Type:                queue.EventCollected,
			LabID:               labID,
			Owner:               res.Owner,
			Collected:           res.Collected,
			OwnerAmountCents:    res.OwnerAmountCents,
			PlatformAmountCents: res.PlatformAmountCents,
			Keys:                res.Keys,
			OccurredAt:          time.Now().UTC().Format(time.RFC3339),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = publisher.PublishReservationEvent(ctx, ev)
		}()
	}
	return c.JSON(http.StatusOK, res)
}

type pruneReq struct {
	MaxIterations int `json:"max_iterations"`
}

// PrunePayouts removes dead entries from the lab's payout queue. Admin
// maintenance; never required for correctness.
func (h *ReservationHandler) PrunePayouts(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	var req pruneReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	pruned := h.Engine.PrunePayouts(labID, req.MaxIterations)
	return c.JSON(http.StatusOK, echo.Map{"pruned": pruned})
}
