package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// PanicHook is told the route template of every recovered panic.
type PanicHook func(route string)

// Recovery turns a handler panic into a 500 and logs it with the stack. The
// request-scoped logger is preferred so the entry carries the request id.
// onPanic may be nil.
func Recovery(logger zerolog.Logger, onPanic PanicHook) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				l := zerolog.Ctx(c.Request().Context())
				if l.GetLevel() == zerolog.Disabled {
					l = &logger
				}
				l.Error().
					Str("route", c.Path()).
					Str("uri", c.Request().RequestURI).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")

				if onPanic != nil {
					onPanic(c.Path())
				}
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal error while handling the billing request")
			}()
			return next(c)
		}
	}
}
