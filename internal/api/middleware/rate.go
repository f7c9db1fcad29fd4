package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// PerClient gives every client IP its own bucket instead of one shared
	// bucket. Only useful behind the local server: a Lambda sandbox serves
	// one invocation at a time and sees the gateway, not the client.
	PerClient bool
	// IdleTTL is how long a per-client bucket survives without traffic
	IdleTTL time.Duration
	Logger  *zap.Logger
	// Now is the clock; tests replace it
	Now func() time.Time
}

// RateLimit rejects requests over the configured rate with 429 and a
// Retry-After hint.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	buckets := newBucketSet(rate.Limit(cfg.RequestsPerSecond), cfg.Burst, cfg.IdleTTL, cfg.Now())

	return func(c *gin.Context) {
		key := ""
		if cfg.PerClient {
			key = c.ClientIP()
		}
		now := cfg.Now()

		r := buckets.get(key, now).ReserveN(now, 1)
		if delay := r.DelayFrom(now); !r.OK() || delay > 0 {
			r.CancelAt(now)
			cfg.Logger.Debug("Request rate limited",
				zap.String("client", c.ClientIP()),
				zap.String("request_id", GetRequestID(c)),
				zap.Duration("retry_after", delay),
			)
			c.Header("Retry-After", retryAfter(delay))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

func retryAfter(delay time.Duration) string {
	secs := int(math.Ceil(delay.Seconds()))
	if secs < 1 || delay == rate.InfDuration {
		secs = 1
	}
	return strconv.Itoa(secs)
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// bucketSet hands out one limiter per key and forgets keys idle for ttl.
type bucketSet struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newBucketSet(limit rate.Limit, burst int, ttl time.Duration, now time.Time) *bucketSet {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &bucketSet{
		limit:     limit,
		burst:     burst,
		ttl:       ttl,
		buckets:   make(map[string]*bucket),
		lastSweep: now,
	}
}

func (s *bucketSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > s.ttl {
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) > s.ttl {
				delete(s.buckets, k)
			}
		}
		s.lastSweep = now
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}
