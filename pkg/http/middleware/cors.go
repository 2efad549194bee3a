package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       time.Duration
}

// CORS lets dashboards on the configured origins read the API. Requests from
// other origins pass through without CORS headers.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			origin := req.Header.Get(echo.HeaderOrigin)
			res := c.Response().Header()
			res.Add(echo.HeaderVary, echo.HeaderOrigin)

			allowed, wildcard := matchOrigin(cfg.AllowOrigins, origin)
			if origin == "" || !allowed {
				return next(c)
			}
			if wildcard {
				res.Set(echo.HeaderAccessControlAllowOrigin, "*")
			} else {
				res.Set(echo.HeaderAccessControlAllowOrigin, origin)
			}

			preflight := req.Method == http.MethodOptions && req.Header.Get(echo.HeaderAccessControlRequestMethod) != ""
			if !preflight {
				return next(c)
			}
			if methods != "" {
				res.Set(echo.HeaderAccessControlAllowMethods, methods)
			}
			if headers != "" {
				res.Set(echo.HeaderAccessControlAllowHeaders, headers)
			}
			if cfg.MaxAge > 0 {
				res.Set(echo.HeaderAccessControlMaxAge, maxAge)
			}
			return c.NoContent(http.StatusNoContent)
		}
	}
}

func matchOrigin(allow []string, origin string) (ok, wildcard bool) {
	for _, o := range allow {
		if o == "*" {
			return true, true
		}
		if strings.EqualFold(o, origin) {
			return true, false
		}
	}
	return false, false
}
