package middleware

import (
    "net/http"
    "net/http/httptest"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/field-reservation/internal/config"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
    t.Helper()
    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })
    return mr, rdb
}

func cacheConfig() config.CacheConfig {
    return config.CacheConfig{
        Enabled:           true,
        Methods:           map[string]bool{"GET": true},
        TTL:               time.Minute,
        KeyStrategy:       "route_query",
        Prefix:            "test",
        MaxBodyBytes:      1 << 20,
        InvalidateOnWrite: true,
    }
}

func do(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
    req := httptest.NewRequest(method, target, nil)
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    return rec
}

func TestRedisCache_HitAfterMissAndInvalidate(t *testing.T) {
    _, rdb := newRedis(t)
    cfg := cacheConfig()

    var reads int32
    e := echo.New()
    g := e.Group("", InvalidateOnWrite(cfg, rdb), NewRedisCache(cfg, rdb))
    g.GET("/items", func(c echo.Context) error {
        n := atomic.AddInt32(&reads, 1)
        return c.JSON(http.StatusOK, echo.Map{"n": n})
    })
    g.POST("/items", func(c echo.Context) error { return c.NoContent(http.StatusCreated) })
    g.DELETE("/items", func(c echo.Context) error { return c.JSON(http.StatusNotFound, echo.Map{"error": "nope"}) })

    first := do(e, http.MethodGet, "/items?date=2025-06-01")
    assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
    second := do(e, http.MethodGet, "/items?date=2025-06-01")
    assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
    assert.Equal(t, first.Body.String(), second.Body.String())
    assert.Equal(t, first.Header().Get(echo.HeaderContentType), second.Header().Get(echo.HeaderContentType))

    other := do(e, http.MethodGet, "/items?date=2025-06-02")
    assert.Equal(t, "MISS", other.Header().Get("X-Cache"))

    // failed writes leave the cache alone
    do(e, http.MethodDelete, "/items")
    assert.Equal(t, "HIT", do(e, http.MethodGet, "/items?date=2025-06-01").Header().Get("X-Cache"))

    require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/items").Code)
    third := do(e, http.MethodGet, "/items?date=2025-06-01")
    assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
    assert.Contains(t, third.Body.String(), `"n":3`)
}

func TestRedisCache_SkipsErrorsAndOversizedBodies(t *testing.T) {
    _, rdb := newRedis(t)
    cfg := cacheConfig()
    cfg.MaxBodyBytes = 8

    e := echo.New()
    e.Use(NewRedisCache(cfg, rdb))
    e.GET("/big", func(c echo.Context) error { return c.String(http.StatusOK, strings.Repeat("x", 32)) })
    e.GET("/missing", func(c echo.Context) error { return c.JSON(http.StatusNotFound, echo.Map{"error": "no"}) })

    do(e, http.MethodGet, "/big")
    big := do(e, http.MethodGet, "/big")
    assert.Equal(t, "MISS", big.Header().Get("X-Cache"))
    assert.Len(t, big.Body.String(), 32)

    do(e, http.MethodGet, "/missing")
    assert.Equal(t, "MISS", do(e, http.MethodGet, "/missing").Header().Get("X-Cache"))
}

func TestRedisCache_DisabledWithoutClient(t *testing.T) {
    e := echo.New()
    e.Use(NewRedisCache(cacheConfig(), nil))
    e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
    rec := do(e, http.MethodGet, "/")
    assert.Equal(t, "ok", rec.Body.String())
    assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestCachedResponse_RejectsShortPayload(t *testing.T) {
    var p cachedResponse
    assert.Error(t, p.UnmarshalBinary([]byte{0, 0}))
    assert.Error(t, p.UnmarshalBinary([]byte{0, 0, 0, 200, 0, 0, 0, 9, '{'}))
}

func TestTokenBucket_BlocksWhenEmpty(t *testing.T) {
    _, rdb := newRedis(t)
    cfg := config.RateLimitConfig{
        Enabled:        true,
        Capacity:       2,
        RefillTokens:   1,
        RefillInterval: time.Minute,
        TTL:            10 * time.Minute,
        KeyStrategy:    "ip",
        Prefix:         "rl",
    }
    e := echo.New()
    e.Use(NewTokenBucket(cfg, rdb))
    e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

    assert.Equal(t, http.StatusNoContent, do(e, http.MethodGet, "/").Code)
    second := do(e, http.MethodGet, "/")
    assert.Equal(t, http.StatusNoContent, second.Code)
    assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

    blocked := do(e, http.MethodGet, "/")
    assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
    assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
    assert.Contains(t, blocked.Body.String(), "rate limit exceeded")
}

func TestTokenBucket_FailsOpen(t *testing.T) {
    rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
    t.Cleanup(func() { _ = rdb.Close() })
    cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}
    e := echo.New()
    e.Use(NewTokenBucket(cfg, rdb))
    e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

    for i := 0; i < 3; i++ {
        assert.Equal(t, http.StatusNoContent, do(e, http.MethodGet, "/").Code)
    }
}

func TestBuildRateKey(t *testing.T) {
    e := echo.New()
    req := httptest.NewRequest(http.MethodGet, "/v1/reservations/7", nil)
    req.RemoteAddr = "10.0.0.1:5555"
    c := e.NewContext(req, httptest.NewRecorder())
    c.SetPath("/v1/reservations/:id")

    cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_route"}
    assert.Equal(t, "rl:ip:10.0.0.1:route:GET /v1/reservations/:id", buildRateKey(cfg, c))
    cfg.KeyStrategy = "route"
    assert.Equal(t, "rl:route:GET /v1/reservations/:id", buildRateKey(cfg, c))
}

func TestRequestID(t *testing.T) {
    e := echo.New()
    e.Use(RequestID())
    var seen string
    e.GET("/", func(c echo.Context) error {
        seen = RequestIDFrom(c)
        return c.NoContent(http.StatusOK)
    })

    rec := do(e, http.MethodGet, "/")
    assert.Len(t, seen, 36)
    assert.Equal(t, seen, rec.Header().Get(echo.HeaderXRequestID))

    req := httptest.NewRequest(http.MethodGet, "/", nil)
    req.Header.Set(echo.HeaderXRequestID, "abc")
    rec = httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    assert.Equal(t, "abc", seen)
}

func TestRedisCache_WriteDuringMissIsNotServedStale(t *testing.T) {
    _, rdb := newRedis(t)
    cfg := cacheConfig()

    var version, reads int32
    e := echo.New()
    g := e.Group("", InvalidateOnWrite(cfg, rdb), NewRedisCache(cfg, rdb))
    g.POST("/items", func(c echo.Context) error {
        atomic.AddInt32(&version, 1)
        return c.NoContent(http.StatusCreated)
    })
    g.GET("/items", func(c echo.Context) error {
        seen := atomic.LoadInt32(&version)
        // a write commits and invalidates after this read loaded its data
        if atomic.AddInt32(&reads, 1) == 1 {
            require.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/items").Code)
        }
        return c.JSON(http.StatusOK, echo.Map{"version": seen})
    })

    first := do(e, http.MethodGet, "/items")
    assert.Contains(t, first.Body.String(), `"version":0`)

    next := do(e, http.MethodGet, "/items")
    assert.Equal(t, "MISS", next.Header().Get("X-Cache"))
    assert.Contains(t, next.Body.String(), `"version":1`)
    assert.Equal(t, "HIT", do(e, http.MethodGet, "/items").Header().Get("X-Cache"))
}
