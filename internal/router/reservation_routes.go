package router

import (
	"github.com/labstack/echo/v4"

	"github.com/decentralabs/lab-reservation/internal/handler"
	"github.com/decentralabs/lab-reservation/internal/middleware"
	"github.com/decentralabs/lab-reservation/internal/repository"
)

// RegisterReservations registers the reservation lifecycle and the read
// side. Mutations sit behind the rate limiter; the engine rejects bad
// requests before any payment, so they are cheap to spam. Queries that
// need no identity are public and cacheable.
func RegisterReservations(e *echo.Echo, r *handler.ReservationHandler, q *handler.QueryHandler,
	jwtSecret string, limit, cache echo.MiddlewareFunc) {

	// Public read side. Availability answers may be stale by at most the
	// cache TTL.
	e.GET("/v1/labs/:id/availability", q.Availability, cache)
	e.GET("/v1/labs/:id/slots", q.Slots, cache)
	e.GET("/v1/labs/:id/next-slot", q.NextSlot, cache)
	e.GET("/v1/labs/:id/booked", q.Booked, cache)
	e.GET("/v1/labs/:id/stats", q.Stats, cache)
	e.GET("/v1/labs/:id/at", q.At, cache)
	e.GET("/v1/labs/:id/next-expiration", q.NextExpiration, cache)
	e.GET("/v1/labs/:id/reservations/:kind", q.History, cache)

	// Authenticated read side: per-caller views are never cached.
	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/reservations/:key", q.Get)
	auth.GET("/labs/:id/mine", q.Mine)
	auth.GET("/labs/:id/reservations/:kind/mine", q.MyHistory)

	// Requester mutations.
	req := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(repository.RoleRequester, repository.RoleOwner, repository.RoleAdmin),
		limit,
	)
	req.POST("/reservations", r.Request)
	req.DELETE("/reservations/:key", r.Cancel)
	req.POST("/reservations/:key/checkin", r.CheckIn)
	req.POST("/reservations/:key/complete", r.Complete)
	req.POST("/labs/:id/release-expired", r.ReleaseExpired)

	// Owner mutations. The engine re-resolves ownership itself; the role
	// gate only keeps plain requesters off the endpoints.
	own := e.Group(
		"/v1/owner",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(repository.RoleOwner, repository.RoleAdmin),
		limit,
	)
	own.POST("/reservations/:key/confirm", r.Confirm)
	own.POST("/reservations/:key/deny", r.Deny)
	own.POST("/labs/:id/collect", r.Collect)
	own.POST("/labs/:id/prune-payouts", r.PrunePayouts)
}
