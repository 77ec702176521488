package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"acqbridge/pkg/config"
	apperrors "acqbridge/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore keeps one token bucket per client IP and forgets clients
// idle for longer than limiterIdleTTL.
type limiterStore struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterStore(limit rate.Limit, burst int) *limiterStore {
	return &limiterStore{
		clients: make(map[string]*clientLimiter),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

func (s *limiterStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > limiterIdleTTL {
		for k, cl := range s.clients {
			if now.Sub(cl.lastSeen) > limiterIdleTTL {
				delete(s.clients, k)
			}
		}
		s.lastSweep = now
	}

	cl, ok := s.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// NewHTTPRateLimitMiddleware limits control requests per client IP. Exempt
// routes (image readout, probes) bypass both the bucket and the
// concurrency cap.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	exempt := make(map[string]bool, len(cfg.RateLimiting.HTTP.ExemptRoutes))
	for _, r := range cfg.RateLimiting.HTTP.ExemptRoutes {
		exempt[r] = true
	}

	var inflight chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		inflight = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if exempt[c.FullPath()] {
			c.Next()
			return
		}

		if inflight != nil {
			select {
			case inflight <- struct{}{}:
				defer func() { <-inflight }()
			default:
				abortWith(c, apperrors.NewAppError(apperrors.ErrCodeRateLimit, "too many concurrent requests", http.StatusServiceUnavailable))
				return
			}
		}

		limiter := store.get(c.ClientIP())
		if !limiter.Allow() {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter(limiter).Seconds())+1))
			abortWith(c, apperrors.NewRateLimitError())
			return
		}
		c.Next()
	}
}

// abortWith stops the chain and leaves rendering to ErrorHandlerMiddleware.
func abortWith(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// retryAfter estimates when the next token becomes available.
func retryAfter(l *rate.Limiter) time.Duration {
	r := l.Reserve()
	defer r.Cancel()
	return r.Delay()
}
