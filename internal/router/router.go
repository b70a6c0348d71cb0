package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/field-reservation/internal/config"
	"github.com/iliyamo/field-reservation/internal/handler"
	"github.com/iliyamo/field-reservation/internal/middleware"
)

// Options carries the Redis-backed middleware settings.  A nil Redis
// client disables caching and rate limiting.
type Options struct {
	Redis     *redis.Client
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
}

// RegisterRoutes mounts the health check and the /v1 API on e.
func RegisterRoutes(e *echo.Echo, h *handler.ReservationHandler, opts Options) {
	e.GET("/healthz", handler.Health)

	// rate limit first so rejected requests never reach the cache
	v1 := e.Group("/v1",
		middleware.NewTokenBucket(opts.RateLimit, opts.Redis),
		middleware.InvalidateOnWrite(opts.Cache, opts.Redis),
		middleware.NewRedisCache(opts.Cache, opts.Redis),
	)

	v1.GET("/reservations", h.List)
	v1.GET("/reservations/:id", h.Get)
	v1.POST("/reservations", h.Create)
	v1.PUT("/reservations/:id", h.Update)
	v1.PATCH("/reservations/:id", h.Update)
	v1.DELETE("/reservations/:id", h.Delete)

	v1.GET("/audit", h.ListAudit)
}
