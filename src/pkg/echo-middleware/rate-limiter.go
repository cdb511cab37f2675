package echomw

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	rateLimit int // requests per second
	burst     int // how many requests are allowed instantly
	now       func() time.Time
}

func NewRateLimiter(rateLimit int, burst int) *RateLimiter {
	return &RateLimiter{
		clients:   make(map[string]*clientLimiter),
		rateLimit: rateLimit,
		burst:     burst,
		now:       time.Now,
	}
}

// UpdateRateLimits applies to limiters created from now on.
func (r *RateLimiter) UpdateRateLimits(rateLimit int, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimit = rateLimit
	r.burst = burst
}

// getLimiter returns the limiter for ip and forgets clients idle for a minute.
func (r *RateLimiter) getLimiter(ip string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, client := range r.clients {
		if now.Sub(client.lastSeen) > limiterIdleTTL {
			delete(r.clients, key)
		}
	}

	client, exists := r.clients[ip]
	if !exists {
		client = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(r.rateLimit), r.burst)}
		r.clients[ip] = client
	}
	client.lastSeen = now
	return client.limiter
}

// Middleware rejects requests over the client's limit with 429.
func (r *RateLimiter) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !r.getLimiter(c.RealIP()).Allow() {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
		}
		return next(c)
	}
}
