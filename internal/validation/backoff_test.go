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

package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/pkg/ferrors"
)

func advanceBackoffClock(clk *clock.Fake, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				clk.Advance(20 * time.Second)
			}
		}
	}()
}

func TestWithBackoffSucceedsAfterTransientFailures(t *testing.T) {
	clk := clock.NewFake(time.Now())
	stop := make(chan struct{})
	defer close(stop)
	advanceBackoffClock(clk, stop)

	attempts := 0
	err := withBackoff(context.Background(), clk, 3, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &ferrors.TransportError{Operation: "op", Cause: errors.New("connection reset")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithBackoffStopsOnNonTransportError(t *testing.T) {
	clk := clock.NewFake(time.Now())
	attempts := 0
	err := withBackoff(context.Background(), clk, 3, func(ctx context.Context) error {
		attempts++
		return &ferrors.ValidationInputError{Field: "x", Message: "bad"}
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt for a non-retryable error, got %d", attempts)
	}
}

func TestWithBackoffExhaustsMaxRetries(t *testing.T) {
	clk := clock.NewFake(time.Now())
	stop := make(chan struct{})
	defer close(stop)
	advanceBackoffClock(clk, stop)

	attempts := 0
	err := withBackoff(context.Background(), clk, 2, func(ctx context.Context) error {
		attempts++
		return &ferrors.TransportError{Operation: "op", Cause: errors.New("timed out")}
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
}
