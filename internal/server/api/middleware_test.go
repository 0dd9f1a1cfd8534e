package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("10.0.0.1", now), "request %d should pass", i)
	}
	assert.False(t, rl.allow("10.0.0.1", now))

	// Other clients have their own bucket.
	assert.True(t, rl.allow("10.0.0.2", now))

	// One token refills per second.
	assert.True(t, rl.allow("10.0.0.1", now.Add(time.Second)))
}

func TestRateLimiter_DropsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	start := time.Now()

	rl.allow("10.0.0.1", start)
	require.Len(t, rl.visitors, 1)

	rl.allow("10.0.0.2", start.Add(visitorTTL+visitorSweepInterval+time.Second))
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestRateLimiter_Middleware(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(0.001, 1)
	e.POST("/files", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, rl.Middleware())

	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/files", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
}

func TestConcurrencyLimiter_RejectsWhenFull(t *testing.T) {
	e := echo.New()
	limiter := NewConcurrencyLimiter(1)

	entered := make(chan struct{})
	release := make(chan struct{})
	e.POST("/files", func(c echo.Context) error {
		close(entered)
		<-release
		return c.NoContent(http.StatusOK)
	}, limiter.Middleware())

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/files", nil))
	}()
	<-entered

	second := httptest.NewRecorder()
	e.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/files", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	close(release)
	<-done
	assert.Equal(t, http.StatusOK, first.Code)

	// The slot is free again.
	e.POST("/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, limiter.Middleware())
	third := httptest.NewRecorder()
	e.ServeHTTP(third, httptest.NewRequest(http.MethodPost, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, third.Code)
}
