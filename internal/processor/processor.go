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

// Package processor routes stored events to per-source handlers and
// drives the retry schedule from spec.md §4.E. Grounded on the retry loop
// shape of the teacher's pkg/workflow.Executor.executeWithRetry (attempt
// counter, time.After backoff, ctx-done preemption), generalized from a
// multiplicative step backoff to the processor's fixed 1s/5s/15s
// schedule and from step-execution errors to ferrors.ClassifyTransport.
package processor

import (
	"context"
	"time"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/internal/eventstore"
	"github.com/forgecd/forge/pkg/ferrors"
)

// retryDelays is the fixed retry schedule: the event's 1st retry waits
// 1s and its 2nd waits 5s. Processing is capped at 3 attempts total, so
// the 15s entry is never reached.
var retryDelays = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
}

const maxAttempts = 3

// Handler processes one event for a given source. Handlers must be
// idempotent by event id — the processor guarantees at-least-once
// delivery, never exactly-once (spec.md §4.E).
type Handler func(ctx context.Context, event *eventstore.Event) error

// Processor dispatches events to per-source handlers and schedules
// retries for transport-classified failures.
type Processor struct {
	store    eventstore.Store
	handlers map[eventstore.Source]Handler
	clock    clock.Clock
}

// New builds a Processor backed by store. clk lets tests drive retry
// timing deterministically; pass clock.Real() in production.
func New(store eventstore.Store, clk clock.Clock) *Processor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Processor{store: store, handlers: make(map[eventstore.Source]Handler), clock: clk}
}

// RegisterHandler wires handler as the dispatch target for source.
func (p *Processor) RegisterHandler(source eventstore.Source, handler Handler) {
	p.handlers[source] = handler
}

// Process dispatches event, retrying on transport-classified failures up
// to maxAttempts times on the fixed delay schedule, and blocks until the
// event is processed, reaches failed_permanently, is marked failed by a
// non-retryable error, or ctx is cancelled. Cancellation
// preempts any pending retry wait (spec.md §9 open question).
func (p *Processor) Process(ctx context.Context, event *eventstore.Event) error {
	handler, ok := p.handlers[event.Source]
	if !ok {
		return p.store.UpdateStatus(ctx, event.ID, eventstore.StatusFailedPermanently,
			"no handler registered for source "+string(event.Source), nil)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := p.store.UpdateStatus(ctx, event.ID, eventstore.StatusProcessing, "", nil); err != nil {
			return err
		}

		err := handler(ctx, event)
		if err == nil {
			return p.store.UpdateStatus(ctx, event.ID, eventstore.StatusProcessed, "", nil)
		}
		lastErr = err

		if !ferrors.ClassifyTransport(err) {
			return p.store.UpdateStatus(ctx, event.ID, eventstore.StatusFailed, err.Error(), nil)
		}

		if attempt == maxAttempts {
			return p.store.UpdateStatus(ctx, event.ID, eventstore.StatusFailedPermanently, err.Error(), nil)
		}

		if statusErr := p.store.UpdateStatus(ctx, event.ID, eventstore.StatusFailed, err.Error(), nil); statusErr != nil {
			return statusErr
		}

		delay := retryDelays[attempt-1]
		select {
		case <-ctx.Done():
			return &ferrors.CancelledError{Reason: "processor retry wait for event " + event.ID}
		case <-p.clock.After(delay):
		}
	}

	return lastErr
}
