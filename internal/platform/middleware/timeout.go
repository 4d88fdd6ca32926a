package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds each request's context, and with it every backend
// call the handler makes. A handler still running at the deadline gets a 504.
// Paths under any of skip keep the caller's context. A timeout of zero
// disables the middleware.
func RequestTimeout(timeout time.Duration, skip ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, prefix := range skip {
				if strings.HasPrefix(path, prefix) {
					return next(c)
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() { done <- next(c) }()

			select {
			case err := <-done:
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
					return errTimedOut()
				}
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return errTimedOut()
				}
				return ctx.Err()
			}
		}
	}
}

func errTimedOut() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusGatewayTimeout, "billing backend did not answer in time")
}
