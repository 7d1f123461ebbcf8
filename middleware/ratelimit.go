package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"PolyChat/pkg/cache"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

var (
	rlMu     sync.Mutex
	limiters = map[string]*rate.Limiter{}
	window   = 10 * time.Second
	capacity = 5

	dupCache = cache.New(10000)
	dupMu    sync.RWMutex
	dupTTL   = 45 * time.Second

	cgMu     sync.Mutex
	userSem  = map[string]chan struct{}{}
	userConc = 2
)

// SetRateLimitConfig replaces the limits. Existing limiters are dropped so
// the new values apply immediately.
func SetRateLimitConfig(win time.Duration, cap, conc int) {
	rlMu.Lock()
	window = win
	capacity = cap
	limiters = map[string]*rate.Limiter{}
	rlMu.Unlock()
	cgMu.Lock()
	userConc = conc
	userSem = map[string]chan struct{}{}
	cgMu.Unlock()
}

func SetDuplicateTTL(ttl time.Duration) {
	dupMu.Lock()
	dupTTL = ttl
	dupMu.Unlock()
}

func clientIP(c *gin.Context) string {
	ip := strings.TrimSpace(c.ClientIP())
	if ip == "" {
		host, _, _ := net.SplitHostPort(strings.TrimSpace(c.Request.RemoteAddr))
		ip = host
	}
	return ip
}

func userKey(c *gin.Context) string {
	return c.GetString(ContextUserIDKey) + "@" + clientIP(c)
}

func limiterFor(key string) (*rate.Limiter, time.Duration) {
	rlMu.Lock()
	defer rlMu.Unlock()
	l := limiters[key]
	if l == nil {
		// capacity requests per window, bursting up to capacity
		l = rate.NewLimiter(rate.Every(window/time.Duration(max(capacity, 1))), capacity)
		limiters[key] = l
	}
	return l, window
}

// RateLimit allows capacity requests per window for each user+IP pair.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		l, win := limiterFor(userKey(c))
		if !l.Allow() {
			c.Header("Retry-After", strconv.Itoa(int(win.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"msg": "too many requests"})
			return
		}
		c.Next()
	}
}

// DuplicateGuard reports whether text may be sent by uid, i.e. it is not
// the same text the user sent within the duplicate window.
func DuplicateGuard(uid string, text string) bool {
	dupMu.RLock()
	ttl := dupTTL
	dupMu.RUnlock()

	text = strings.TrimSpace(text)
	key := "dup:" + uid
	if v, ok := dupCache.Get(key); ok && v.(string) == text {
		return false
	}
	dupCache.Set(key, text, ttl)
	return true
}

// ForgetDuplicate drops the text recorded by DuplicateGuard for uid, so a
// send that was rejected downstream can be retried. A newer text is kept.
func ForgetDuplicate(uid string, text string) {
	key := "dup:" + uid
	if v, ok := dupCache.Get(key); ok && v.(string) == strings.TrimSpace(text) {
		dupCache.Delete(key)
	}
}

// AcquireUserSlot waits for a free concurrency slot for uid. It gives up
// with ctx's error when ctx is done first.
func AcquireUserSlot(ctx context.Context, uid string) (release func(), err error) {
	cgMu.Lock()
	sem := userSem[uid]
	if sem == nil {
		sem = make(chan struct{}, max(userConc, 1))
		userSem[uid] = sem
	}
	cgMu.Unlock()
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
