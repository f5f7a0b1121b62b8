// Package ratelimit implements a fixed-window request limiter keyed by
// service and client.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultWindow is the fixed window length.
const DefaultWindow = 60 * time.Second

// Info describes the window the decision was made in; its fields back the
// X-RateLimit-* response headers.
type Info struct {
	Limit     int
	Remaining int
	// Reset is the absolute end of the current window in Unix milliseconds.
	Reset int64
	// RetryAfter is the whole seconds remaining in the window, for the
	// Retry-After header on rejection.
	RetryAfter int
}

type window struct {
	count int
	end   time.Time
}

// Limiter tracks one counter per (serviceID, clientKey) pair.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	length  time.Duration
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

// New builds a limiter with the given window length (DefaultWindow if zero)
// and starts the expiry sweep.
func New(length time.Duration) *Limiter {
	if length <= 0 {
		length = DefaultWindow
	}
	l := &Limiter{
		windows: make(map[string]*window),
		length:  length,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Close stops the sweep goroutine.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// Allow bumps the counter for the pair and reports whether the request fits
// within limit for the current window. A limit of zero disables limiting.
func (l *Limiter) Allow(serviceID, clientKey string, limit int) (bool, Info) {
	now := l.now()

	if limit <= 0 {
		return true, Info{Limit: limit, Remaining: -1, Reset: now.Add(l.length).UnixMilli()}
	}

	key := serviceID + "\x00" + clientKey

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.end) {
		w = &window{end: now.Add(l.length)}
		l.windows[key] = w
	}
	w.count++
	count := w.count
	end := w.end
	l.mu.Unlock()

	info := Info{
		Limit:     limit,
		Remaining: limit - count,
		Reset:     end.UnixMilli(),
	}
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	if count > limit {
		retry := int(end.Sub(now).Seconds())
		if retry < 1 {
			retry = 1
		}
		info.RetryAfter = retry
		return false, info
	}
	return true, info
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.length)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := l.now()
			l.mu.Lock()
			for key, w := range l.windows {
				if !now.Before(w.end) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// ClientKey derives the limiter identity for a request: the first entry of
// X-Forwarded-For, then X-Real-IP, then the remote address.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.Index(xff, ","); i >= 0 {
			xff = xff[:i]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
