// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDefaultConfigs(t *testing.T) {
	boot := DefaultBootstrapConfig()
	assert.Equal(t, float64(10), boot.Rate)
	assert.Equal(t, 20, boot.Burst)

	api := DefaultAPIConfig()
	assert.Greater(t, api.Rate, boot.Rate)
	assert.Greater(t, api.Burst, boot.Burst)
}

func TestNew_Defaults(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 1})
	defer rl.Stop()
	assert.Equal(t, time.Minute, rl.Config().CleanupInterval)
	assert.Equal(t, 5*time.Minute, rl.Config().MaxAge)
	rl.Stop()
}

func TestAllow(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 3, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "keys are independent")
	assert.Equal(t, 2, rl.Len())
}

func TestAllow_ZeroRateDisablesLimiting(t *testing.T) {
	rl := New(Config{})
	defer rl.Stop()
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("any"))
	}
	assert.Zero(t, rl.Len())
}

func TestAllow_Concurrent(t *testing.T) {
	rl := New(Config{Rate: 0.001, Burst: 50, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestCleanupStaleEntries(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Minute})
	defer rl.Stop()

	rl.Allow("old")
	rl.cleanupStaleEntries(time.Now().Add(2 * time.Minute))
	assert.Zero(t, rl.Len())
}

func TestMiddleware(t *testing.T) {
	rl := New(Config{Rate: 0.5, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	router := gin.New()
	router.GET("/", rl.Middleware("bootstrap", nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.10:1234"
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)
	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
}

func TestByContextKey(t *testing.T) {
	key := ByContextKey("subject")

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "192.0.2.1:1000"
	assert.Equal(t, "ip:192.0.2.1", key(c))

	c.Set("subject", "auth0|42")
	assert.Equal(t, "subject:auth0|42", key(c))
}
