package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/brainquiz/backend/pkg/response"
)

const minIdleTTL = 10 * time.Minute

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// IPLimiter hands out one token-bucket limiter per client IP. Entries idle for longer than it
// takes a bucket to refill are dropped, so a returning client starts from a full bucket either way.
type IPLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastPrune time.Time
	now       func() time.Time
}

// NewIPLimiter allows perMinute requests per IP, with bursts of up to burst requests.
func NewIPLimiter(perMinute, burst int) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	idle := minIdleTTL
	if perMinute > 0 {
		if refill := time.Duration(burst) * time.Minute / time.Duration(perMinute); refill > idle {
			idle = refill
		}
	}
	return &IPLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
	}
}

// Allow reports whether a request from ip may proceed now.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastPrune) >= l.idle {
		l.pruneLocked(now)
	}
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

func (l *IPLimiter) pruneLocked(now time.Time) {
	for ip, v := range l.visitors {
		if now.Sub(v.seen) >= l.idle {
			delete(l.visitors, ip)
		}
	}
	l.lastPrune = now
}

// RateLimit rejects requests with 429 once the client IP exceeds its budget.
// A nil limiter disables throttling.
func RateLimit(l *IPLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l != nil && !l.Allow(c.ClientIP()) {
			response.TooManyRequests(c, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
