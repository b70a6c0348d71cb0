package middleware

import (
    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"
)

// RequestID echoes an incoming X-Request-ID or assigns a random UUID, and
// keeps it on the context for the request logger.
func RequestID() echo.MiddlewareFunc {
    return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
        Generator: uuid.NewString,
        RequestIDHandler: func(c echo.Context, id string) {
            c.Set(requestIDKey, id)
        },
    })
}

const requestIDKey = "request_id"

// RequestIDFrom returns the id assigned by RequestID, or "".
func RequestIDFrom(c echo.Context) string {
    id, _ := c.Get(requestIDKey).(string)
    return id
}
