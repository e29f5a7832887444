package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"LiveTicks/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover turns a handler panic into a 500 error and logs the stack.
func Recover(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					perr, ok := r.(error)
					if !ok {
						perr = fmt.Errorf("%v", r)
					}
					l.Error("panic in handler",
						logger.String("path", c.Path()),
						logger.Error(perr),
						logger.String("stack", string(debug.Stack())),
					)
					err = echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error").SetInternal(perr)
				}
			}()
			return next(c)
		}
	}
}
