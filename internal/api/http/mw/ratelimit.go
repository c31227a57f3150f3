package mw

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"whalewatch/internal/config"
	"whalewatch/internal/security"
	rds "whalewatch/internal/stores/redis"

	"github.com/redis/go-redis/v9"
)

// Two buckets: per client IP always, per JWT subject when a token is present.
type RateLimitMiddleware struct {
	Cfg      *config.RateLimitConfig
	Rdb      *rds.Client
	Verifier *security.RS256Verifier // optional
}

func NewRateLimit(cfg *config.RateLimitConfig, rdb *rds.Client, verifier *security.RS256Verifier) *RateLimitMiddleware {
	if cfg == nil {
		panic("rate limit config cannot be nil")
	}
	if rdb == nil {
		panic("redis client cannot be nil")
	}

	// sane defaults
	if cfg.ByJWT.TTL == 0 {
		cfg.ByJWT.TTL = 2 * time.Minute
	}
	if cfg.ByIP.TTL == 0 {
		cfg.ByIP.TTL = 2 * time.Minute
	}

	return &RateLimitMiddleware{Cfg: cfg, Rdb: rdb, Verifier: verifier}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now()

		ip := clientIP(r)
		if ip == "" {
			ip = "unknown"
		}

		okIP, leftIP := m.allow(ctx, "rl:ip:"+ip, now, m.Cfg.ByIP)
		w.Header().Set("X-RateLimit-Limit-IP", strconv.Itoa(m.Cfg.ByIP.Burst))
		w.Header().Set("X-RateLimit-Remaining-IP", strconv.Itoa(int(leftIP)))

		okJWT := true

		sub := UserID(r)
		if sub == "" && m.Verifier != nil {
			// JWT middleware may run after us, try to parse ourselves
			if claims, err := m.Verifier.VerifyBearer(r.Header.Get("Authorization")); err == nil {
				sub = claims.Subject
			}
		}
		if sub != "" {
			var leftJWT float64
			okJWT, leftJWT = m.allow(ctx, "rl:jwt:"+sub, now, m.Cfg.ByJWT)
			w.Header().Set("X-RateLimit-Limit-JWT", strconv.Itoa(m.Cfg.ByJWT.Burst))
			w.Header().Set("X-RateLimit-Remaining-JWT", strconv.Itoa(int(leftJWT)))
		}

		if !(okIP && okJWT) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// --- redis token-bucket (Lua) for atomicity in one round trip ---
var luaTokenBucket = redis.NewScript(`
-- KEYS[1] = key
-- ARGV[1] = now_ms
-- ARGV[2] = refill_per_sec (integer)
-- ARGV[3] = burst (integer)
-- ARGV[4] = ttl_seconds
local key   = KEYS[1]
local now   = tonumber(ARGV[1])
local rate  = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl   = tonumber(ARGV[4])

-- read state
local last_ms = tonumber(redis.call('HGET', key, 'ts') or now)
local tokens  = tonumber(redis.call('HGET', key, 'tok') or burst)

-- replenish
if now > last_ms then
  local delta = (now - last_ms) / 1000.0
  tokens = math.min(burst, tokens + (delta * rate))
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tok', tokens, 'ts', now)
redis.call('EXPIRE', key, ttl)

return {allowed, tostring(tokens)}
`)

func (m *RateLimitMiddleware) allow(ctx context.Context, key string, now time.Time, b config.RateBucket) (bool, float64) {
	ttl := int(b.TTL.Seconds())
	if ttl <= 0 {
		ttl = 120
	}

	res, err := luaTokenBucket.Run(ctx, m.Rdb.Client, []string{key},
		now.UnixMilli(),
		b.RefillPerSec,
		b.Burst,
		ttl,
	).Result()
	if err != nil { // redis down: fail open, the API stays usable
		return true, 0
	}

	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return true, 0
	}

	allowed, _ := arr[0].(int64)
	left := 0.0
	if s, ok := arr[1].(string); ok {
		left, _ = strconv.ParseFloat(s, 64)
	}

	return allowed == 1, left
}

func clientIP(r *http.Request) string {
	// first hop of the proxy chain
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
