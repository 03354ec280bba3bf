package httpapi

import (
	"fmt"
	"sync"
	"time"
)

// ipRateLimiter counts requests per client IP inside fixed wall-clock windows.
type ipRateLimiter struct {
	window             time.Duration
	maxPerWindow       int
	countersByIPBucket map[string]int
	countersMutex      sync.Mutex
}

func newIPRateLimiter(window time.Duration, maxPerWindow int) *ipRateLimiter {
	return &ipRateLimiter{
		window:             window,
		maxPerWindow:       maxPerWindow,
		countersByIPBucket: make(map[string]int),
	}
}

// isRateLimited counts the request against the IP's current window and reports
// whether the window budget is exceeded.
func (limiter *ipRateLimiter) isRateLimited(ip string) bool {
	nowBucket := time.Now().Unix() / int64(limiter.window.Seconds())
	key := fmt.Sprintf("%s:%d", ip, nowBucket)

	limiter.countersMutex.Lock()
	defer limiter.countersMutex.Unlock()

	limiter.countersByIPBucket[key]++
	return limiter.countersByIPBucket[key] > limiter.maxPerWindow
}
