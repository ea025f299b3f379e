// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit implements the sliding-window per-(tier, client) limiter
// and burst guard from spec.md §4.B. Unlike the teacher's token bucket
// (internal/daemon/auth/ratelimit.go), a sliding window needs the exact
// timestamp sequence to compute retry_after_ms and the RateLimit-Reset
// header, so each client tracks a deque of recent request times instead of
// a single float counter.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/pkg/ferrors"
)

// Tier names the caller's rate-limit bucket. Tiers are resolved in the
// order Admin, Authenticated, Webhook, Default (spec.md §4.B).
type Tier string

const (
	TierDefault       Tier = "default"
	TierWebhook       Tier = "webhook"
	TierAuthenticated Tier = "authenticated"
	TierAdmin         Tier = "admin"
)

// Limit is a request budget over a window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Config is the set of tier limits plus the burst guard, mirroring
// internal/config.RateLimitConfig.
type Config struct {
	Default       Limit
	Webhook       Limit
	Authenticated Limit
	Admin         Limit
	BurstLimit    int
	BurstWindow   time.Duration
}

func (c Config) limitFor(tier Tier) Limit {
	switch tier {
	case TierAdmin:
		return c.Admin
	case TierAuthenticated:
		return c.Authenticated
	case TierWebhook:
		return c.Webhook
	default:
		return c.Default
	}
}

// Decision is the outcome of a Check call, used to populate the
// RateLimit-* response headers regardless of whether the request passed.
type Decision struct {
	Tier      Tier
	Limit     int
	Remaining int
	Reset     time.Time
	Window    time.Duration
}

// clientState holds one client's sliding window plus its private burst
// guard. A single Limiter instance tracks one clientState per distinct
// client_id seen.
type clientState struct {
	mu        sync.Mutex
	times     []time.Time // ascending, oldest first
	burst     *rate.Limiter
	lastSeen  time.Time
}

// Limiter enforces the tier sliding windows and the burst guard.
type Limiter struct {
	cfg   Config
	clock clock.Clock

	mu      sync.RWMutex
	clients map[string]*clientState
}

// New builds a Limiter from cfg. clk lets tests drive the window
// deterministically; pass clock.Real() in production.
func New(cfg Config, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{cfg: cfg, clock: clk, clients: make(map[string]*clientState)}
}

func (l *Limiter) state(clientID string) *clientState {
	l.mu.RLock()
	st, ok := l.clients[clientID]
	l.mu.RUnlock()
	if ok {
		return st
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok = l.clients[clientID]; ok {
		return st
	}
	st = &clientState{
		burst: rate.NewLimiter(rate.Every(l.cfg.BurstWindow/time.Duration(max(l.cfg.BurstLimit, 1))), l.cfg.BurstLimit),
	}
	l.clients[clientID] = st
	return st
}

// Check applies the sliding-window check for tier and the burst guard for
// clientID. Both must pass (spec.md §4.B: "Both the tier window and the
// burst window must pass"). On success it records the request. On
// rejection it returns a *ferrors.RateLimitError with RetryAfterMS set.
func (l *Limiter) Check(tier Tier, clientID string) (Decision, error) {
	limit := l.cfg.limitFor(tier)
	st := l.state(clientID)

	st.mu.Lock()
	defer st.mu.Unlock()

	now := l.clock.Now()
	st.lastSeen = now

	cutoff := now.Add(-limit.Window)
	st.times = dropBefore(st.times, cutoff)

	decision := Decision{Tier: tier, Limit: limit.Requests, Window: limit.Window}

	if len(st.times) >= limit.Requests {
		oldest := st.times[0]
		reset := oldest.Add(limit.Window)
		decision.Remaining = 0
		decision.Reset = reset
		retryAfter := reset.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return decision, &ferrors.RateLimitError{Tier: string(tier), RetryAfterMS: retryAfter.Milliseconds()}
	}

	if !st.burst.AllowN(now, 1) {
		decision.Remaining = limit.Requests - len(st.times)
		decision.Reset = now.Add(l.cfg.BurstWindow)
		return decision, &ferrors.RateLimitError{Tier: "burst", RetryAfterMS: l.cfg.BurstWindow.Milliseconds()}
	}

	st.times = append(st.times, now)
	decision.Remaining = limit.Requests - len(st.times)
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if len(st.times) > 0 {
		decision.Reset = st.times[0].Add(limit.Window)
	} else {
		decision.Reset = now.Add(limit.Window)
	}
	return decision, nil
}

// Cleanup removes clients that have made no request within maxAge, so
// one-shot or long-gone clients don't accumulate state forever.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, st := range l.clients {
		st.mu.Lock()
		age := now.Sub(st.lastSeen)
		st.mu.Unlock()
		if age > maxAge {
			delete(l.clients, id)
		}
	}
}

func dropBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
