package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"storefront/pkg/log"
	"storefront/pkg/utils"
)

// RateLimitConfig rate limiting middleware configuration
type RateLimitConfig struct {
	// Rate requests per second
	Rate float64
	// Burst maximum burst size
	Burst int
	// KeyFunc function to generate rate limit key
	KeyFunc func(c *gin.Context) string
	// IdleTimeout drops the limiter of a key not seen for this long. Zero keeps them forever.
	IdleTimeout time.Duration
}

// IPRateLimit limits each client IP to rps with the given burst.
func IPRateLimit(rps float64, burst int) gin.HandlerFunc {
	return RateLimitWithConfig(RateLimitConfig{
		Rate:        rps,
		Burst:       burst,
		IdleTimeout: 10 * time.Minute,
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore hands out one limiter per key. Idle keys are swept on access, at most
// once per idle timeout.
type limiterStore struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

func newLimiterStore(config RateLimitConfig) *limiterStore {
	s := &limiterStore{
		limit:   rate.Limit(config.Rate),
		burst:   config.Burst,
		idle:    config.IdleTimeout,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
	s.lastSweep = s.now()
	return s
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.idle > 0 && now.Sub(s.lastSweep) >= s.idle {
		for k, client := range s.clients {
			if now.Sub(client.lastSeen) >= s.idle {
				delete(s.clients, k)
			}
		}
		s.lastSweep = now
	}

	client, exists := s.clients[key]
	if !exists {
		client = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[key] = client
	}
	client.lastSeen = now
	return client.limiter
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// RateLimitWithConfig rate limiting middleware with configuration
func RateLimitWithConfig(config RateLimitConfig) gin.HandlerFunc {
	store := newLimiterStore(config)

	return func(c *gin.Context) {
		key := config.KeyFunc(c)

		if !store.get(key).Allow() {
			log.WithFields(log.Fields{
				"key":        key,
				"path":       c.Request.URL.Path,
				"method":     c.Request.Method,
				"request_id": c.GetString(RequestIDKey),
			}).Warn("Rate limit exceeded")

			c.Header("X-RateLimit-Limit", strconv.FormatFloat(config.Rate, 'f', -1, 64))
			c.Header("Retry-After", "1")
			utils.AbortWithStatus(c, http.StatusTooManyRequests, "Too many requests")
			return
		}

		c.Next()
	}
}
