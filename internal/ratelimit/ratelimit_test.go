package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/filecatalog/speedtest/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLimiter_Allow(t *testing.T) {
	l := New(3, time.Minute)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request #%d rejected within burst", i)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Errorf("request over the limit was allowed")
	}
	// Other clients have their own bucket.
	if !l.Allow("10.0.0.2") {
		t.Errorf("request from a different client was rejected")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(0, time.Minute)
	defer l.Stop()
	if l.Enabled() {
		t.Fatalf("limiter with zero requests should be disabled")
	}
	for i := 0; i < 1000; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("disabled limiter rejected a request")
		}
	}
}

func TestLimiter_Then(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Stop()
	h := l.Then(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusNoContent)
	}))

	before := testutil.ToFloat64(metrics.RateLimited)
	codes := []int{}
	for i := 0; i < 2; i++ {
		rw := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/speed-test/ping", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		h.ServeHTTP(rw, req)
		codes = append(codes, rw.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Errorf("unexpected status codes: %v", codes)
	}
	if got := testutil.ToFloat64(metrics.RateLimited) - before; got != 1 {
		t.Errorf("RateLimited increased by %v, want 1", got)
	}
}

func TestLimiter_Then_RetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
		want   string
	}{
		{name: "minute", window: time.Minute, want: "60"},
		{name: "ten-seconds", window: 10 * time.Second, want: "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(1, tt.window)
			defer l.Stop()
			h := l.Then(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {}))

			var rw *httptest.ResponseRecorder
			for i := 0; i < 2; i++ {
				rw = httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodGet, "/speed-test/ping", nil)
				req.RemoteAddr = "192.0.2.1:1234"
				h.ServeHTTP(rw, req)
			}
			if rw.Code != http.StatusTooManyRequests {
				t.Fatalf("second request: status %d, want 429", rw.Code)
			}
			if got := rw.Header().Get("Retry-After"); got != tt.want {
				t.Errorf("Retry-After = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLimiter_RetryAfter(t *testing.T) {
	l := New(1, time.Minute)
	defer l.Stop()
	if d := l.RetryAfter("10.0.0.1"); d != 0 {
		t.Errorf("RetryAfter() = %v for a fresh client, want 0", d)
	}
	// RetryAfter must not consume the token.
	if !l.Allow("10.0.0.1") {
		t.Fatalf("request rejected after RetryAfter()")
	}
	if d := l.RetryAfter("10.0.0.1"); d <= 50*time.Second || d > time.Minute {
		t.Errorf("RetryAfter() = %v, want about 1m", d)
	}
}

func Test_retryAfterSeconds(t *testing.T) {
	tests := map[time.Duration]string{
		0:                        "1",
		100 * time.Millisecond:   "1",
		time.Second:              "1",
		1500 * time.Millisecond:  "2",
		59999 * time.Millisecond: "60",
	}
	for d, want := range tests {
		if got := retryAfterSeconds(d); got != want {
			t.Errorf("retryAfterSeconds(%v) = %q, want %q", d, got, want)
		}
	}
}

func Test_remoteHost(t *testing.T) {
	tests := map[string]string{
		"192.0.2.1:1234":   "192.0.2.1",
		"[2001:db8::1]:80": "2001:db8::1",
		"no-port":          "no-port",
	}
	for in, want := range tests {
		if got := remoteHost(in); got != want {
			t.Errorf("remoteHost(%q) = %q, want %q", in, got, want)
		}
	}
}
