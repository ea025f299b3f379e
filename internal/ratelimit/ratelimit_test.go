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

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/pkg/ferrors"
)

func testConfig() Config {
	return Config{
		Default:       Limit{Requests: 100, Window: 15 * time.Minute},
		Webhook:       Limit{Requests: 30, Window: time.Minute},
		Authenticated: Limit{Requests: 500, Window: 15 * time.Minute},
		Admin:         Limit{Requests: 1000, Window: 15 * time.Minute},
		BurstLimit:    5,
		BurstWindow:   10 * time.Second,
	}
}

// TestBurstGuard is spec.md scenario S4: 6 requests in 10s, first 5 pass.
func TestBurstGuard(t *testing.T) {
	clk := clock.NewFake(time.Now())
	l := New(testConfig(), clk)

	for i := 0; i < 5; i++ {
		if _, err := l.Check(TierWebhook, "client-a"); err != nil {
			t.Fatalf("request %d: expected allow, got %v", i+1, err)
		}
	}

	_, err := l.Check(TierWebhook, "client-a")
	if err == nil {
		t.Fatal("expected 6th request within burst window to be rejected")
	}
	if ferrors.CategoryOf(err) != ferrors.CategoryRateLimited {
		t.Errorf("expected RateLimitExceeded category, got %v", ferrors.CategoryOf(err))
	}
	rle, ok := err.(*ferrors.RateLimitError)
	if !ok {
		t.Fatalf("expected *ferrors.RateLimitError, got %T", err)
	}
	if rle.RetryAfterMS < 1000 {
		t.Errorf("expected Retry-After of at least 1s, got %dms", rle.RetryAfterMS)
	}
}

func TestBurstGuardRecoversAfterWindow(t *testing.T) {
	clk := clock.NewFake(time.Now())
	l := New(testConfig(), clk)

	for i := 0; i < 5; i++ {
		if _, err := l.Check(TierWebhook, "client-a"); err != nil {
			t.Fatalf("request %d: unexpected reject: %v", i+1, err)
		}
	}
	if _, err := l.Check(TierWebhook, "client-a"); err == nil {
		t.Fatal("expected burst rejection")
	}

	clk.Advance(11 * time.Second)
	if _, err := l.Check(TierWebhook, "client-a"); err != nil {
		t.Errorf("expected request to succeed after burst window elapsed, got %v", err)
	}
}

func TestTierWindowRejectsAtLimit(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cfg := testConfig()
	cfg.Webhook = Limit{Requests: 3, Window: time.Minute}
	cfg.BurstLimit = 100 // isolate the tier window from the burst guard
	cfg.BurstWindow = time.Second
	l := New(cfg, clk)

	for i := 0; i < 3; i++ {
		if _, err := l.Check(TierWebhook, "client-b"); err != nil {
			t.Fatalf("request %d: unexpected reject: %v", i+1, err)
		}
		clk.Advance(50 * time.Millisecond)
	}

	_, err := l.Check(TierWebhook, "client-b")
	if err == nil {
		t.Fatal("expected 4th request to exceed the tier window")
	}
}

func TestSlidingWindowEvictsOldEntries(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cfg := testConfig()
	cfg.Webhook = Limit{Requests: 2, Window: time.Minute}
	cfg.BurstLimit = 100
	l := New(cfg, clk)

	if _, err := l.Check(TierWebhook, "client-c"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Check(TierWebhook, "client-c"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Check(TierWebhook, "client-c"); err == nil {
		t.Fatal("expected 3rd request to be rejected")
	}

	clk.Advance(61 * time.Second)
	if _, err := l.Check(TierWebhook, "client-c"); err != nil {
		t.Errorf("expected request to succeed after window slid past old entries, got %v", err)
	}
}

func TestTiersAreIndependentPerClient(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cfg := testConfig()
	cfg.Webhook = Limit{Requests: 1, Window: time.Minute}
	cfg.BurstLimit = 100
	l := New(cfg, clk)

	if _, err := l.Check(TierWebhook, "client-d"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Check(TierWebhook, "client-d"); err == nil {
		t.Fatal("expected client-d's second request to be rejected")
	}
	if _, err := l.Check(TierWebhook, "client-e"); err != nil {
		t.Errorf("expected a different client to have its own window, got %v", err)
	}
}

func TestAdminTierUsesAdminLimit(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cfg := testConfig()
	cfg.Admin = Limit{Requests: 2, Window: time.Minute}
	cfg.BurstLimit = 100
	l := New(cfg, clk)

	d, err := l.Check(TierAdmin, "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Limit != 2 {
		t.Errorf("expected admin tier limit 2, got %d", d.Limit)
	}
}

func TestMiddlewareSetsHeadersAndRejects(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cfg := testConfig()
	cfg.Webhook = Limit{Requests: 1, Window: time.Minute}
	cfg.BurstLimit = 100
	l := New(cfg, clk)

	handler := l.Middleware(func(r *http.Request) (string, Tier) {
		return "client-f", TierWebhook
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/source_host", nil)

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec1.Code)
	}
	if rec1.Header().Get("RateLimit-Limit") != "1" {
		t.Errorf("expected RateLimit-Limit header, got %q", rec1.Header().Get("RateLimit-Limit"))
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on rejection")
	}
}

func TestCleanupRemovesStaleClients(t *testing.T) {
	clk := clock.NewFake(time.Now())
	l := New(testConfig(), clk)

	if _, err := l.Check(TierDefault, "client-g"); err != nil {
		t.Fatal(err)
	}

	clk.Advance(time.Hour)
	l.Cleanup(30 * time.Minute)

	l.mu.RLock()
	_, exists := l.clients["client-g"]
	l.mu.RUnlock()
	if exists {
		t.Error("expected stale client state to be removed")
	}
}
