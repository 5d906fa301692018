// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/sessionboot/pkg/apiresponses"
	"github.com/telekom/sessionboot/pkg/metrics"
)

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often stale entries are removed
	CleanupInterval time.Duration
	// MaxAge is how long an entry is kept after last access
	MaxAge time.Duration
}

// DefaultBootstrapConfig limits page loads that may start a login: 10 req/s
// per client, burst of 20.
func DefaultBootstrapConfig() Config {
	return Config{
		Rate:            10,
		Burst:           20,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// DefaultAPIConfig limits bearer API calls: 20 req/s per subject, burst of 50.
func DefaultAPIConfig() Config {
	return Config{
		Rate:            20,
		Burst:           50,
		CleanupInterval: time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// KeyFunc selects the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// ByClientIP counts requests per client address.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByContextKey counts requests per value stored under key in the gin context,
// e.g. the token subject. Requests without it are counted per client address.
func ByContextKey(key string) KeyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get(key); ok {
			if s, ok := v.(string); ok && s != "" {
				return key + ":" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter keeps one token bucket per key and forgets idle keys.
type Limiter struct {
	mu       sync.Mutex
	entries  map[string]*entry
	config   Config
	done     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config) *Limiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	rl := &Limiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request for key may proceed. A zero rate disables
// limiting.
func (rl *Limiter) Allow(key string) bool {
	if rl.config.Rate <= 0 {
		return true
	}
	return rl.reserve(key, time.Now()) == 0
}

// reserve takes a token for key and returns how long to wait when none is left.
func (rl *Limiter) reserve(key string, now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.entries[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst)}
		rl.entries[key] = e
	}
	e.lastAccess = now
	if e.limiter.AllowN(now, 1) {
		return 0
	}
	r := e.limiter.ReserveN(now, 1)
	defer r.CancelAt(now)
	if !r.OK() {
		return time.Second
	}
	return r.DelayFrom(now)
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. route labels the rejection metric.
func (rl *Limiter) Middleware(route string, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ByClientIP
	}
	return func(c *gin.Context) {
		if rl.config.Rate <= 0 {
			c.Next()
			return
		}
		if wait := rl.reserve(key(c), time.Now()); wait > 0 {
			metrics.RateLimited.WithLabelValues(route).Inc()
			apiresponses.RespondTooManyRequests(c, wait)
			return
		}
		c.Next()
	}
}

// Stop ends the cleanup goroutine.
func (rl *Limiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *Limiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case now := <-ticker.C:
			rl.cleanupStaleEntries(now)
		}
	}
}

func (rl *Limiter) cleanupStaleEntries(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *Limiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

func (rl *Limiter) Config() Config {
	return rl.config
}
