package apiproxy

import (
	"time"

	"github.com/labstack/echo/v4"
)

// NoCaching keeps responses about the credential out of browser and proxy caches
func NoCaching(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		headers := c.Response().Header()
		headers.Set("Expires", time.Unix(0, 0).Format(time.RFC1123))
		headers.Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
		headers.Set("X-Accel-Expires", "0")
		return next(c)
	}
}
