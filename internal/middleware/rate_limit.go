package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// sweepThreshold is how many tracked clients trigger removal of expired ones.
const sweepThreshold = 1024

// RateLimit allows at most maxRequests per client address in each fixed
// window. A non-positive limit disables it. The client address is
// r.RemoteAddr, so run it after chi's RealIP when behind a proxy.
func RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	if maxRequests <= 0 || window <= 0 {
		return passthrough
	}
	limiter := newWindowLimiter(maxRequests, window, time.Now)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.take(clientAddr(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				rateLimited.WithLabelValues(routeGroup(r.URL.Path)).Inc()
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler {
	return next
}

type counter struct {
	used  int
	reset time.Time
}

type windowLimiter struct {
	mu      sync.Mutex
	limit   int
	length  time.Duration
	now     func() time.Time
	windows map[string]*counter
}

func newWindowLimiter(limit int, length time.Duration, now func() time.Time) *windowLimiter {
	return &windowLimiter{limit: limit, length: length, now: now, windows: make(map[string]*counter)}
}

// take counts one request for key. When the window is used up it returns
// false and the time left until it resets (at least one second).
func (l *windowLimiter) take(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	win, ok := l.windows[key]
	if !ok || !now.Before(win.reset) {
		if len(l.windows) >= sweepThreshold {
			l.sweepLocked(now)
		}
		l.windows[key] = &counter{used: 1, reset: now.Add(l.length)}
		return true, 0
	}
	if win.used >= l.limit {
		wait := win.reset.Sub(now)
		if wait < time.Second {
			wait = time.Second
		}
		return false, wait
	}
	win.used++
	return true, 0
}

func (l *windowLimiter) sweepLocked(now time.Time) {
	for key, win := range l.windows {
		if !now.Before(win.reset) {
			delete(l.windows, key)
		}
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
