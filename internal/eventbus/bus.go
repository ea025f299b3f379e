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

// Package eventbus is Forge's in-process pub/sub (spec.md §4.D), grounded
// on the teacher's pkg/workflow.EventEmitter. Extended with priority
// ordering, once-listeners, a per-type listener cap, per-listener
// timeouts, and an async drain worker — none of which the teacher's
// emitter (On/Off/Emit, sync or fully-async fan-out) has.
package eventbus

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/pkg/ferrors"
)

const (
	maxListenersPerType = 100
	defaultHistorySize  = 1000
	defaultDrainInterval = 10 * time.Millisecond
)

// Listener is the callback registered with Subscribe.
type Listener func(ctx context.Context, event Event) error

// Event is one published message.
type Event struct {
	Type      string
	Data      map[string]any
	Timestamp time.Time
}

// SubscribeOptions configures a single Subscribe call.
type SubscribeOptions struct {
	Priority  int // higher runs first
	TimeoutMS int // 0 disables per-listener timeout
}

// PublishOptions configures a single Publish call.
type PublishOptions struct {
	Async bool
}

type registration struct {
	id       string
	listener Listener
	priority int
	timeout  time.Duration
	once     bool
	seq      int // registration order, for stable priority ties
}

// Bus is Forge's in-process event bus.
type Bus struct {
	mu        sync.Mutex
	listeners map[string][]*registration
	nextID    int
	nextSeq   int

	history     []Event
	historySize int

	clock         clock.Clock
	drainInterval time.Duration
	queue         chan Event
	stop          chan struct{}
	wg            sync.WaitGroup
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithHistorySize overrides the default 1000-event history buffer.
func WithHistorySize(n int) Option {
	return func(b *Bus) { b.historySize = n }
}

// WithDrainInterval overrides the default 10ms async drain interval.
func WithDrainInterval(d time.Duration) Option {
	return func(b *Bus) { b.drainInterval = d }
}

// WithClock injects a clock for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) { b.clock = c }
}

// New builds a Bus and starts its async drain worker.
func New(opts ...Option) *Bus {
	b := &Bus{
		listeners:     make(map[string][]*registration),
		historySize:   defaultHistorySize,
		drainInterval: defaultDrainInterval,
		clock:         clock.Real(),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = make(chan Event, 4096)
	b.wg.Add(1)
	go b.drainLoop()
	return b
}

// Close stops the async drain worker. Queued events already accepted are
// still delivered before it returns.
func (b *Bus) Close() {
	close(b.stop)
	b.wg.Wait()
}

// Subscribe registers listener for eventType and returns its listener id.
func (b *Bus) Subscribe(eventType string, listener Listener, opts SubscribeOptions) (string, error) {
	return b.register(eventType, listener, opts, false)
}

// SubscribeOnce registers a listener that deregisters itself after its
// first invocation, success or failure.
func (b *Bus) SubscribeOnce(eventType string, listener Listener, opts SubscribeOptions) (string, error) {
	return b.register(eventType, listener, opts, true)
}

func (b *Bus) register(eventType string, listener Listener, opts SubscribeOptions, once bool) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.listeners[eventType]) >= maxListenersPerType {
		return "", &ferrors.OverloadedError{Gate: "eventbus:" + eventType, Limit: maxListenersPerType, Current: len(b.listeners[eventType])}
	}

	b.nextID++
	b.nextSeq++
	reg := &registration{
		id:       strconv.Itoa(b.nextID),
		listener: listener,
		priority: opts.Priority,
		once:     once,
		seq:      b.nextSeq,
	}
	if opts.TimeoutMS > 0 {
		reg.timeout = time.Duration(opts.TimeoutMS) * time.Millisecond
	}

	b.listeners[eventType] = append(b.listeners[eventType], reg)
	sortListenersLocked(b.listeners[eventType])

	return reg.id, nil
}

func sortListenersLocked(regs []*registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority > regs[j].priority
		}
		return regs[i].seq < regs[j].seq
	})
}

// Unsubscribe removes the listener with id from eventType.
func (b *Bus) Unsubscribe(eventType, listenerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.listeners[eventType]
	for i, r := range regs {
		if r.id == listenerID {
			b.listeners[eventType] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// Clear removes all listeners for eventType.
func (b *Bus) Clear(eventType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, eventType)
}

// Publish dispatches an event. With opts.Async, the event is queued and
// Publish returns immediately; the drain worker delivers it. Otherwise
// delivery happens synchronously, priority-desc, before Publish returns.
func (b *Bus) Publish(ctx context.Context, eventType string, data map[string]any, opts PublishOptions) error {
	event := Event{Type: eventType, Data: data, Timestamp: b.clock.Now()}
	b.recordHistory(event)

	if opts.Async {
		select {
		case b.queue <- event:
		default:
			// Queue full: fall back to synchronous delivery rather than
			// silently dropping the event.
			return b.deliver(ctx, event)
		}
		return nil
	}
	return b.deliver(ctx, event)
}

func (b *Bus) recordHistory(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns the last N recorded events, oldest first.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Bus) drainLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			b.drainAll()
			return
		case <-ticker.C:
			b.drainAll()
		}
	}
}

// drainAll fans the events queued since the last tick out to deliver
// concurrently — independent published events have no ordering
// requirement between each other, only within a single event's own
// listener list (spec.md §4.D).
func (b *Bus) drainAll() {
	var pending []Event
drain:
	for {
		select {
		case event := <-b.queue:
			pending = append(pending, event)
		default:
			break drain
		}
	}

	if len(pending) == 0 {
		return
	}
	g, ctx := errgroup.WithContext(context.Background())
	for _, event := range pending {
		event := event
		g.Go(func() error {
			b.deliver(ctx, event)
			return nil
		})
	}
	_ = g.Wait()
}

// deliver invokes every listener for event.Type in priority order.
// Errors and timeouts in one listener never prevent others from running
// (spec.md §4.D). once-listeners deregister after this call regardless
// of outcome.
func (b *Bus) deliver(ctx context.Context, event Event) error {
	b.mu.Lock()
	regs := make([]*registration, len(b.listeners[event.Type]))
	copy(regs, b.listeners[event.Type])
	b.mu.Unlock()

	var onceIDs []string
	var lastErr error

	for _, reg := range regs {
		if err := b.invoke(ctx, reg, event); err != nil {
			lastErr = err
		}
		if reg.once {
			onceIDs = append(onceIDs, reg.id)
		}
	}

	for _, id := range onceIDs {
		b.Unsubscribe(event.Type, id)
	}

	return lastErr
}

// invoke runs reg's listener, bounding it by reg.timeout when set. A
// listener that outlives its timeout is reported as a listener-local
// timeout error and never blocks sibling delivery; the goroutine is
// abandoned to finish on its own, same as the teacher's fire-and-forget
// async dispatch.
func (b *Bus) invoke(ctx context.Context, reg *registration, event Event) error {
	if reg.timeout <= 0 {
		return reg.listener(ctx, event)
	}

	callCtx, cancel := context.WithTimeout(ctx, reg.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- reg.listener(callCtx, event) }()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return &ferrors.TimeoutError{Operation: "eventbus listener " + reg.id, Duration: reg.timeout}
	}
}
