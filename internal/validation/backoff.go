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
	"time"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/pkg/ferrors"
)

const backoffCap = 10 * time.Second

// withBackoff retries op up to maxRetries additional times (maxRetries+1
// attempts total) using bases 1s, 2s, 4s, ... capped at 10s, stopping
// early if op's error isn't transport-retryable or ctx is cancelled
// (spec.md §4.I).
func withBackoff(ctx context.Context, clk clock.Clock, maxRetries int, op func(ctx context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := time.Second
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !ferrors.ClassifyTransport(err) || attempt == maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return &ferrors.CancelledError{Reason: "backoff wait cancelled"}
		case <-clk.After(delay):
		}
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
	return err
}
