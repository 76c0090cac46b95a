// Package ratelimit implements a per-client token bucket rate limiter for
// HTTP handlers.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/filecatalog/speedtest/internal/metrics"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client address. Buckets that are not
// used for longer than the configured idle TTL are dropped.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients *ttlcache.Cache[string, *rate.Limiter]
}

// New returns a Limiter allowing requests per window to each client, with
// bursts up to requests. A non-positive requests value disables limiting.
// The returned Limiter runs a cleanup goroutine until Stop is called.
func New(requests int, window time.Duration) *Limiter {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *rate.Limiter](window),
	)
	go cache.Start()
	l := &Limiter{
		burst:   requests,
		clients: cache,
	}
	if requests > 0 && window > 0 {
		l.limit = rate.Limit(float64(requests) / window.Seconds())
	}
	return l
}

// Enabled reports whether the limiter rejects anything at all.
func (l *Limiter) Enabled() bool {
	return l.limit > 0 && l.burst > 0
}

// Allow reports whether a request from key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	return l.get(key).Allow()
}

// RetryAfter returns how long key has to wait before its next request is
// allowed. No token is consumed.
func (l *Limiter) RetryAfter(key string) time.Duration {
	if !l.Enabled() {
		return 0
	}
	r := l.get(key).Reserve()
	defer r.Cancel()
	if !r.OK() {
		return 0
	}
	return r.Delay()
}

// get returns the bucket for key, creating it if needed.
func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if item := l.clients.Get(key); item != nil {
		return item.Value()
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.clients.Set(key, lim, ttlcache.DefaultTTL)
	return lim
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	l.clients.Stop()
}

// Then wraps next so that requests over the limit are answered with
// 429 Too Many Requests.
func (l *Limiter) Then(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		key := remoteHost(req.RemoteAddr)
		if !l.Allow(key) {
			metrics.RateLimited.Inc()
			log.Debug("rate limited", "client", key, "path", req.URL.Path)
			rw.Header().Set("Retry-After", retryAfterSeconds(l.RetryAfter(key)))
			http.Error(rw, http.StatusText(http.StatusTooManyRequests),
				http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(rw, req)
	})
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// retryAfterSeconds formats d as a Retry-After value: whole seconds,
// rounded up, at least 1.
func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
