// Package router wires HTTP routes to handlers. Route registration is
// split by audience: auth, public browsing, requester operations and
// owner operations.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/decentralabs/lab-reservation/internal/handler"
	"github.com/decentralabs/lab-reservation/internal/middleware"
)

// RegisterRoutes registers routes that require no authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers authentication endpoints. Register, login,
// refresh and logout live under /v1/auth and require no session; /v1/me
// requires a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
}
