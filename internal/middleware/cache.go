package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/binary"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/field-reservation/internal/config"
)

// captureWriter copies the response body, up to limit bytes, while
// forwarding it to the client.
type captureWriter struct {
    http.ResponseWriter
    status int
    buf    bytes.Buffer
    size   int64
    limit  int64
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }

func (cw *captureWriter) Write(b []byte) (int, error) {
    switch {
    case cw.limit <= 0:
        cw.buf.Write(b)
    case cw.size < cw.limit:
        remain := cw.limit - cw.size
        if int64(len(b)) <= remain {
            cw.buf.Write(b)
        } else {
            cw.buf.Write(b[:remain])
        }
    }
    cw.size += int64(len(b))
    return cw.ResponseWriter.Write(b)
}

// truncated reports whether the body outgrew the capture limit.
func (cw *captureWriter) truncated() bool { return cw.limit > 0 && cw.size > cw.limit }

// per-request headers that must not be replayed from the cache
var uncachedHeaders = []string{"Content-Length", "X-Cache", "X-Request-Id", "Retry-After", "X-Ratelimit-"}

func cacheableHeader(k string) bool {
    k = http.CanonicalHeaderKey(k)
    for _, h := range uncachedHeaders {
        if strings.HasPrefix(k, h) {
            return false
        }
    }
    return true
}

// responseKeyspace is the Redis key pattern every cached response lives under.
func responseKeyspace(cfg config.CacheConfig) string { return cfg.Prefix + ":resp:" }

// generationKey holds a counter bumped by every invalidation.  It is part
// of each response key, so a body captured before a write is stored under
// a generation no later read will ask for.
func generationKey(cfg config.CacheConfig) string { return cfg.Prefix + ":gen" }

func currentGeneration(ctx context.Context, rdb *redis.Client, cfg config.CacheConfig) (int64, error) {
    gen, err := rdb.Get(ctx, generationKey(cfg)).Int64()
    if errors.Is(err, redis.Nil) {
        return 0, nil
    }
    return gen, err
}

// cacheKeyFrom builds a stable cache key honoring prefix, strategy and
// generation.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context, gen int64) string {
    r := c.Request()
    var parts []string
    switch strings.ToLower(cfg.KeyStrategy) {
    case "route":
        parts = []string{"route", c.Path()}
    case "method_route":
        parts = []string{"method", r.Method, "route", c.Path()}
    case "method_route_query":
        parts = []string{"method", r.Method, "route", c.Path(), "path", r.URL.Path, "q", r.URL.RawQuery}
    default: // "route_query"
        parts = []string{"route", c.Path(), "path", r.URL.Path, "q", r.URL.RawQuery}
    }
    sum := sha1.Sum([]byte(strings.Join(parts, ":")))
    return fmt.Sprintf("%s%d:%x", responseKeyspace(cfg), gen, sum[:])
}

// cachedResponse is stored as [4 bytes status][4 bytes headerLen][headerJSON][body].
type cachedResponse struct {
    Status int
    Header http.Header
    Body   []byte
}

var errShortPayload = errors.New("cache: short payload")

func (p cachedResponse) MarshalBinary() ([]byte, error) {
    hdr, err := json.Marshal(p.Header)
    if err != nil {
        return nil, err
    }
    out := make([]byte, 8+len(hdr)+len(p.Body))
    binary.BigEndian.PutUint32(out[0:4], uint32(p.Status))
    binary.BigEndian.PutUint32(out[4:8], uint32(len(hdr)))
    copy(out[8:], hdr)
    copy(out[8+len(hdr):], p.Body)
    return out, nil
}

func (p *cachedResponse) UnmarshalBinary(bs []byte) error {
    if len(bs) < 8 {
        return errShortPayload
    }
    hlen := int(binary.BigEndian.Uint32(bs[4:8]))
    if hlen < 0 || 8+hlen > len(bs) {
        return errShortPayload
    }
    p.Status = int(binary.BigEndian.Uint32(bs[0:4]))
    p.Header = make(http.Header)
    if hlen > 0 {
        if err := json.Unmarshal(bs[8:8+hlen], &p.Header); err != nil {
            return err
        }
    }
    p.Body = bs[8+hlen:]
    return nil
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// NewRedisCache replays cached 200 responses for the configured methods,
// headers and body included.  Responses larger than MaxBodyBytes are
// served but not stored.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return passThrough
    }
    ttl := cfg.TTL
    if ttl <= 0 { ttl = 30 * time.Second }
    maxBody := int64(cfg.MaxBodyBytes)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
                return next(c)
            }
            gen, err := currentGeneration(c.Request().Context(), rdb, cfg)
            if err != nil {
                c.Logger().Warnf("cache: read generation failed: %v", err)
                return next(c)
            }
            key := cacheKeyFrom(cfg, c, gen)
            res := c.Response()

            if bs, err := rdb.Get(c.Request().Context(), key).Bytes(); err == nil {
                var hit cachedResponse
                if hit.UnmarshalBinary(bs) == nil {
                    for k, vals := range hit.Header {
                        if !cacheableHeader(k) { continue }
                        for _, v := range vals {
                            res.Header().Add(k, v)
                        }
                    }
                    res.Header().Set("X-Cache", "HIT")
                    res.WriteHeader(hit.Status)
                    _, err := res.Write(hit.Body)
                    return err
                }
            }

            cw := &captureWriter{ResponseWriter: res.Writer, status: http.StatusOK, limit: maxBody}
            res.Writer = cw
            res.Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }
            if cw.status != http.StatusOK || cw.truncated() {
                return nil
            }

            hdr := make(http.Header, len(res.Header()))
            for k, vals := range res.Header() {
                if cacheableHeader(k) {
                    hdr[k] = append([]string(nil), vals...)
                }
            }
            payload, err := cachedResponse{Status: cw.status, Header: hdr, Body: cw.buf.Bytes()}.MarshalBinary()
            if err != nil {
                return nil
            }
            if err := rdb.Set(context.Background(), key, payload, ttl).Err(); err != nil {
                c.Logger().Warnf("cache: store %s failed: %v", key, err)
            }
            return nil
        }
    }
}

// InvalidateOnWrite bumps the cache generation and drops every cached
// response after a successful (2xx) request whose method is not cached.
// Cached reads never outlive a committed write.
func InvalidateOnWrite(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || !cfg.InvalidateOnWrite || rdb == nil {
        return passThrough
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            err := next(c)
            if cfg.Methods[strings.ToUpper(c.Request().Method)] {
                return err
            }
            if st := c.Response().Status; err != nil || st < 200 || st >= 300 {
                return err
            }
            ctx := context.Background()
            if ierr := rdb.Incr(ctx, generationKey(cfg)).Err(); ierr != nil {
                c.Logger().Warnf("cache: bump generation failed: %v", ierr)
            }
            if n, ierr := purge(ctx, rdb, responseKeyspace(cfg)+"*"); ierr != nil {
                c.Logger().Warnf("cache: invalidate failed after %d keys: %v", n, ierr)
            }
            return nil
        }
    }
}

func purge(ctx context.Context, rdb *redis.Client, pattern string) (int, error) {
    deleted := 0
    iter := rdb.Scan(ctx, 0, pattern, 200).Iterator()
    batch := make([]string, 0, 200)
    for iter.Next(ctx) {
        batch = append(batch, iter.Val())
        if len(batch) == cap(batch) {
            if err := rdb.Unlink(ctx, batch...).Err(); err != nil {
                return deleted, err
            }
            deleted += len(batch)
            batch = batch[:0]
        }
    }
    if err := iter.Err(); err != nil {
        return deleted, err
    }
    if len(batch) > 0 {
        if err := rdb.Unlink(ctx, batch...).Err(); err != nil {
            return deleted, err
        }
        deleted += len(batch)
    }
    return deleted, nil
}
