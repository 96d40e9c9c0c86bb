package middleware

// identity.go holds small helpers shared by the caching and rate limiting
// middleware for attributing a request to a caller.

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

// callerTag returns a stable identifier for the authenticated caller,
// preferring the account claim over the numeric user id. Unauthenticated
// requests share the "anon" bucket.
func callerTag(c echo.Context) string {
	if acct, ok := c.Get("account").(string); ok && acct != "" {
		return acct
	}
	if v := c.Get("user_id"); v != nil {
		return fmt.Sprint(v)
	}
	return "anon"
}
