package http

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	apperrors "github.com/spec-kit/workspace-service/pkg/util/errorutil"
)

const maxTrackedClients = 10000

type visitor struct {
	limiter *rate.Limiter
}

// authRateLimiter throttles credential endpoints per client IP.
type authRateLimiter struct {
	rpm      int
	mu       sync.Mutex
	visitors *lru.Cache[string, *visitor]
}

func newAuthRateLimiter(rpm int) *authRateLimiter {
	if rpm <= 0 {
		rpm = 10
	}
	visitors, _ := lru.New[string, *visitor](maxTrackedClients)
	return &authRateLimiter{rpm: rpm, visitors: visitors}
}

func (l *authRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.visitors.Get(ip); ok {
		return v.limiter
	}
	v := &visitor{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.rpm)), l.rpm)}
	l.visitors.Add(ip, v)
	return v.limiter
}

func (l *authRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.limiterFor(c.IP()).Allow() {
			c.Set(fiber.HeaderRetryAfter, "60")
			return apperrors.NewTooManyRequests("too many requests")
		}
		return c.Next()
	}
}
