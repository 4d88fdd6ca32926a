package middleware

import (
	"github.com/labstack/echo/v4"
)

var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
}

// SecurityHeaders sets response headers for a JSON API that carries patient
// and payment data. Bill and payment responses must not be stored by
// intermediaries, so Cache-Control defaults to no-store unless the handler
// chose something else. HSTS is only sent on requests that arrived over TLS,
// directly or via a proxy.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := c.Response()
			for _, kv := range apiHeaders {
				res.Header().Set(kv[0], kv[1])
			}
			if c.Scheme() == "https" {
				res.Header().Set("Strict-Transport-Security", "max-age=31536000")
			}
			res.Before(func() {
				if res.Header().Get("Cache-Control") == "" {
					res.Header().Set("Cache-Control", "no-store")
				}
			})
			return next(c)
		}
	}
}
