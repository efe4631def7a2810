package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "PatternMemory/pkg/logger"
)

// RequestLogging logs 5xx responses as errors, slow requests as warnings and the rest at debug.
func RequestLogging(log *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			d := time.Since(start)
			status := c.Response().Status
			fields := []applogger.Field{
				applogger.String("method", c.Request().Method),
				applogger.String("route", c.Path()),
				applogger.Int("status", status),
				applogger.Duration("duration_ms", d),
				applogger.Int64("bytes", c.Response().Size),
			}
			switch {
			case status >= 500:
				log.Error("http request failed", append(fields, applogger.Error(err))...)
			case slow > 0 && d >= slow:
				log.Warn("http request slow", fields...)
			default:
				log.Debug("http request", fields...)
			}
			return nil
		}
	}
}
