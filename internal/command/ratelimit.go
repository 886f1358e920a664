// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package command

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/devkitserver/devkitserver/internal/permission"
)

// Default rate limiting values.
const (
	// DefaultBurstCapacity is the maximum number of commands a user can
	// run in a burst before rate limiting kicks in.
	DefaultBurstCapacity = 10

	// DefaultSustainedRate is the number of commands per second allowed as
	// sustained rate (token refill rate).
	DefaultSustainedRate = 2.0

	// MinSustainedRate ensures sustained rate is at least 0.1 tokens/second.
	MinSustainedRate = 0.1

	// DefaultCleanupInterval is the interval at which the background goroutine
	// drops idle users.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultIdleMaxAge is how long a user may stay idle before its bucket is
	// dropped.
	DefaultIdleMaxAge = time.Hour
)

// RateLimitBypass exempts a user from chat command rate limiting.
var RateLimitBypass = permission.NewBranch(permission.ScopeDevkitServer, "commands.ratelimit.bypass")

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// BurstCapacity defaults to DefaultBurstCapacity if zero or negative.
	BurstCapacity int
	// SustainedRate defaults to DefaultSustainedRate if zero or negative.
	SustainedRate   float64
	CleanupInterval time.Duration
	IdleMaxAge      time.Duration
}

type userBucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter limits chat commands per user with a token bucket. The console
// is never limited. It is safe for concurrent use.
//
// The RateLimiter runs a background goroutine to drop idle users. Call
// Close to stop it.
type RateLimiter struct {
	mu            sync.Mutex
	users         map[uint64]*userBucket
	burstCapacity int
	sustainedRate float64
	idleMaxAge    time.Duration
	now           func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup

	userGauge prometheus.Gauge
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// reg may be nil.
func NewRateLimiter(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	burst := cfg.BurstCapacity
	if burst <= 0 {
		burst = DefaultBurstCapacity
	}
	rate := cfg.SustainedRate
	if rate <= 0 {
		rate = DefaultSustainedRate
	}
	rate = max(rate, MinSustainedRate)
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	maxAge := cfg.IdleMaxAge
	if maxAge <= 0 {
		maxAge = DefaultIdleMaxAge
	}

	rl := &RateLimiter{
		users:         make(map[uint64]*userBucket),
		burstCapacity: burst,
		sustainedRate: rate,
		idleMaxAge:    maxAge,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
	if reg != nil {
		rl.userGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "devkitserver_ratelimiter_users",
			Help: "Current number of users tracked by the command rate limiter",
		})
		reg.MustRegister(rl.userGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(interval)
	return rl
}

// Allow consumes one token for userID. When none is available it returns
// false and the milliseconds until the next token.
func (rl *RateLimiter) Allow(userID uint64) (allowed bool, cooldownMs int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.users[userID]
	if !ok {
		bucket = &userBucket{tokens: float64(rl.burstCapacity), lastCheck: now}
		rl.users[userID] = bucket
	}

	elapsed := now.Sub(bucket.lastCheck).Seconds()
	bucket.tokens = min(bucket.tokens+elapsed*rl.sustainedRate, float64(rl.burstCapacity))
	bucket.lastCheck = now

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true, 0
	}
	deficit := 1.0 - bucket.tokens
	return false, int64(deficit / rl.sustainedRate * 1000)
}

// Forget drops the bucket of a disconnected user.
func (rl *RateLimiter) Forget(userID uint64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.users, userID)
}

// UserCount returns the number of tracked users.
func (rl *RateLimiter) UserCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.users)
}

// Cleanup removes users idle for longer than maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-maxAge)
	for id, bucket := range rl.users {
		if bucket.lastCheck.Before(threshold) {
			delete(rl.users, id)
		}
	}
	if rl.userGauge != nil {
		rl.userGauge.Set(float64(len(rl.users)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup(rl.idleMaxAge)
		}
	}
}

// Close stops the cleanup goroutine and waits for it.
func (rl *RateLimiter) Close() {
	close(rl.stopChan)
	rl.wg.Wait()
}
