package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/zhaobenny/clawtop/internal/logging"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestIPRateLimiter(t *testing.T) {
	rl := NewIPRateLimiter(rate.Limit(0.001), 2)
	h := rl.Limit(ok)

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusTeapot, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusTeapot, do("10.0.0.1:1001"), "port does not matter")
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1002"))
	assert.Equal(t, http.StatusTeapot, do("10.0.0.2:1000"), "separate bucket per client")
}

func TestIPRateLimiterEvictsIdle(t *testing.T) {
	rl := NewIPRateLimiter(rate.Limit(0.001), 1)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Len(t, rl.visitors, 2)

	now = now.Add(limiterIdleTTL / 2)
	assert.False(t, rl.Allow("10.0.0.2"), "still tracked")

	now = now.Add(limiterIdleTTL)
	assert.True(t, rl.Allow("10.0.0.3"))
	assert.Len(t, rl.visitors, 1, "idle addresses dropped")
	assert.True(t, rl.Allow("10.0.0.1"), "fresh bucket after eviction")
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	h := RequestLogger(logging.NewWithWriter(&buf, "debug", false), ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/live", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "path=/api/live")
	assert.Contains(t, buf.String(), "status=418")
}
