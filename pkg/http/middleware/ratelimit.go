package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// KeyedLimiter decides whether one more request for key may pass.
type KeyedLimiter interface {
	Allow(key string) bool
}

// RateLimit rejects requests over the per-client budget with 429. The key is
// the client IP plus the route template.
func RateLimit(l KeyedLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP() + " " + c.Path()) {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"status":  http.StatusTooManyRequests,
					"message": http.StatusText(http.StatusTooManyRequests),
				})
			}
			return next(c)
		}
	}
}
