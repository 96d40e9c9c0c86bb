package router

import (
	"github.com/labstack/echo/v4"

	"github.com/decentralabs/lab-reservation/internal/handler"
	"github.com/decentralabs/lab-reservation/internal/middleware"
	"github.com/decentralabs/lab-reservation/internal/repository"
)

// RegisterLabs registers lab browsing and owner-side lab management.
// Browsing is public and sits behind the response cache; management
// requires the OWNER role.
func RegisterLabs(e *echo.Echo, l *handler.LabHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	e.GET("/v1/labs", l.Browse, cache)
	e.GET("/v1/labs/:id", l.Get, cache)

	g := e.Group(
		"/v1/owner",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(repository.RoleOwner, repository.RoleAdmin),
	)
	g.POST("/labs", l.Create)
	g.GET("/labs", l.ListMine)
	g.PUT("/labs/:id", l.Update)
	g.POST("/labs/:id/listing", l.SetListed)
	g.POST("/labs/:id/transfer", l.Transfer)
}

// RegisterWallet registers balance and delegated budget endpoints. Any
// authenticated role may hold funds; budgets are managed by the
// delegating account itself.
func RegisterWallet(e *echo.Echo, w *handler.WalletHandler, jwtSecret string) {
	g := e.Group("/v1/wallet", middleware.JWTAuth(jwtSecret))
	g.GET("", w.Balance)
	g.POST("/deposit", w.Deposit)
	g.PUT("/budgets/:sub_id", w.UpsertBudget)
	g.GET("/budgets/:sub_id", w.GetBudget)
	g.DELETE("/budgets/:sub_id", w.DeleteBudget)
}
