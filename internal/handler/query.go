package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/decentralabs/lab-reservation/internal/engine"
)

// QueryHandler exposes the engine's read side: availability, slot
// discovery and the bounded history views. All answers come from memory;
// no query touches the database.
type QueryHandler struct {
	Engine *engine.Engine
}

func NewQueryHandler(eng *engine.Engine) *QueryHandler {
	if eng == nil {
		panic("nil engine passed to NewQueryHandler")
	}
	return &QueryHandler{Engine: eng}
}

// Get returns a single reservation by key.
func (h *QueryHandler) Get(c echo.Context) error {
	key, ok := paramKey(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation key"})
	}
	r, found := h.Engine.GetReservation(key)
	if !found {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	}
	return c.JSON(http.StatusOK, viewOf(r))
}

// Availability reports whether [start, end) can currently be requested.
func (h *QueryHandler) Availability(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	start := queryUint32(c, "start", 0)
	end := queryUint32(c, "end", 0)
	if start >= end {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "start/end required"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"available": h.Engine.CheckAvailable(labID, start, end),
	})
}

// NextSlot returns the earliest time at or after "from" with a gap of at
// least "min" seconds.
func (h *QueryHandler) NextSlot(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	from := queryUint32(c, "from", 0)
	minSeconds := queryUint32(c, "min", 1)
	return c.JSON(http.StatusOK, echo.Map{
		"start": h.Engine.NextAvailableSlot(labID, from, minSeconds),
	})
}

// Slots lists free gaps of at least "min" seconds inside [from, to).
func (h *QueryHandler) Slots(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	from := queryUint32(c, "from", 0)
	to := queryUint32(c, "to", 0)
	if from >= to {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "from/to required"})
	}
	minSeconds := queryUint32(c, "min", 1)
	max := queryInt(c, "max", 50)
	return c.JSON(http.StatusOK, h.Engine.FindAvailableSlots(labID, from, to, minSeconds, max))
}

// Booked lists every confirmed interval in chronological order.
func (h *QueryHandler) Booked(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	return c.JSON(http.StatusOK, h.Engine.BookedSlots(labID))
}

// Stats aggregates the lab's calendar.
func (h *QueryHandler) Stats(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	return c.JSON(http.StatusOK, h.Engine.ReservationStats(labID))
}

// At returns the reservation covering the queried instant, if any.
func (h *QueryHandler) At(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	tm := queryUint32(c, "time", 0)
	r, found := h.Engine.FindReservationAt(labID, tm)
	if !found {
		return c.JSON(http.StatusOK, echo.Map{"busy": false})
	}
	return c.JSON(http.StatusOK, echo.Map{"busy": true, "reservation": viewOf(r)})
}

// NextExpiration returns the end time of the earliest collectible
// reservation, the owner's next payout opportunity.
func (h *QueryHandler) NextExpiration(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	end, found := h.Engine.NextExpiration(labID)
	if !found {
		return c.JSON(http.StatusOK, echo.Map{"pending": false})
	}
	return c.JSON(http.StatusOK, echo.Map{"pending": true, "end": end})
}

// Mine summarizes the caller's standing on a lab: cap usage and the next
// active reservation.
func (h *QueryHandler) Mine(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	payer := callerAccount(c)
	subID := strings.TrimSpace(c.QueryParam("sub_id"))

	resp := echo.Map{
		"active_count": h.Engine.ActiveCount(labID, payer, subID),
	}
	if r, found := h.Engine.NextActiveReservation(labID, payer, subID); found {
		resp["next"] = viewOf(r)
	}
	return c.JSON(http.StatusOK, resp)
}

// History returns one of the lab's bounded buffers: recent, upcoming or
// past. Public and cacheable; per-requester views live on MyHistory.
func (h *QueryHandler) History(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	switch c.Param("kind") {
	case "recent":
		return c.JSON(http.StatusOK, viewsOf(h.Engine.RecentReservations(labID)))
	case "upcoming":
		return c.JSON(http.StatusOK, viewsOf(h.Engine.UpcomingReservations(labID)))
	case "past":
		return c.JSON(http.StatusOK, viewsOf(h.Engine.PastReservations(labID)))
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "kind must be recent, upcoming or past"})
	}
}

// MyHistory returns the caller's per-requester buffer for the lab, keyed
// by their tracking key. Authenticated and never cached: the response
// depends on the caller's identity.
func (h *QueryHandler) MyHistory(c echo.Context) error {
	labID, ok := paramUint64(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lab id"})
	}
	payer := callerAccount(c)
	subID := strings.TrimSpace(c.QueryParam("sub_id"))

	switch c.Param("kind") {
	case "recent":
		return c.JSON(http.StatusOK, viewsOf(h.Engine.RecentReservationsFor(labID, payer, subID)))
	case "upcoming":
		return c.JSON(http.StatusOK, viewsOf(h.Engine.UpcomingReservationsFor(labID, payer, subID)))
	case "past":
		return c.JSON(http.StatusOK, viewsOf(h.Engine.PastReservationsFor(labID, payer, subID)))
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "kind must be recent, upcoming or past"})
	}
}
