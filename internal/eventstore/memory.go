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

package eventstore

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/pkg/ferrors"
)

// MemoryStore is an in-memory Store: an LRU-ordered map capped at
// maxEntries, with TTL eviction driven by Cleanup. Grounded on the
// teacher's pkg/workflow.MemoryStore (map + RWMutex + copy-on-read), with
// container/list added for LRU eviction ordering — no example repo
// imports a dedicated LRU library, so this uses the standard
// container/list the way the teacher uses plain maps for its own store.
type MemoryStore struct {
	mu         sync.RWMutex
	maxEntries int
	clock      clock.Clock

	entries map[string]*list.Element // id -> element holding *Event
	order   *list.List               // front = most recently touched
}

// NewMemoryStore returns a MemoryStore capped at maxEntries (≤0 means
// unbounded). clk lets tests control TTL eviction deterministically.
func NewMemoryStore(maxEntries int, clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryStore{
		maxEntries: maxEntries,
		clock:      clk,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func (s *MemoryStore) Put(ctx context.Context, e *Event) (string, error) {
	if e == nil {
		return "", &ferrors.ValidationInputError{Field: "event", Message: "event cannot be nil"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = s.clock.Now()
	}
	if e.Status == "" {
		e.Status = StatusReceived
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}

	stored := e.Clone()
	el := s.order.PushFront(stored)
	s.entries[stored.ID] = el

	s.evictOverflowLocked()
	return stored.ID, nil
}

func (s *MemoryStore) evictOverflowLocked() {
	if s.maxEntries <= 0 {
		return
	}
	for s.order.Len() > s.maxEntries {
		back := s.order.Back()
		if back == nil {
			return
		}
		evicted := back.Value.(*Event)
		delete(s.entries, evicted.ID)
		s.order.Remove(back)
	}
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, errMsg string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[id]
	if !ok {
		return &ferrors.NotFoundError{Resource: "event", ID: id}
	}
	e := el.Value.(*Event)
	if e.Status.Terminal() {
		return &ferrors.ValidationInputError{Field: "status", Message: "event " + id + " is already in a terminal status"}
	}

	e.Status = status
	e.Attempts++
	e.LastError = errMsg
	e.LastProcessedAt = s.clock.Now()
	for k, v := range metadata {
		e.Metadata[k] = v
	}

	s.order.MoveToFront(el)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	el, ok := s.entries[id]
	if !ok {
		return nil, &ferrors.NotFoundError{Resource: "event", ID: id}
	}
	return el.Value.(*Event).Clone(), nil
}

func (s *MemoryStore) Query(ctx context.Context, limit int, filters Filters) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Event
	for el := s.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Event)
		if filters.matches(e) {
			results = append(results, e.Clone())
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].ReceivedAt.After(results[j].ReceivedAt)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemoryStore) Metrics(ctx context.Context, timeframe time.Duration) (Metrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	cutoff := now.Add(-timeframe)

	m := Metrics{
		CountByType:   make(map[string]int),
		CountByStatus: make(map[Status]int),
		CountBySource: make(map[Source]int),
	}

	var processed, failed, failedPermanently int
	var totalProcessTime time.Duration
	var processTimeSamples int

	for el := s.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Event)
		if e.ReceivedAt.Before(cutoff) || e.ReceivedAt.After(now) {
			continue
		}
		m.CountByType[e.Type]++
		m.CountByStatus[e.Status]++
		m.CountBySource[e.Source]++

		switch e.Status {
		case StatusProcessed:
			processed++
		case StatusFailed:
			failed++
		case StatusFailedPermanently:
			failedPermanently++
		}

		if !e.LastProcessedAt.IsZero() {
			totalProcessTime += e.LastProcessedAt.Sub(e.ReceivedAt)
			processTimeSamples++
		}
	}

	denom := processed + failed + failedPermanently
	if denom > 0 {
		m.SuccessRate = float64(processed) / float64(denom)
	}
	if processTimeSamples > 0 {
		m.AverageProcessTime = totalProcessTime / time.Duration(processTimeSamples)
	}

	return m, nil
}

func (s *MemoryStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	cutoff := now.Add(-maxAge)

	evicted := 0
	var next *list.Element
	for el := s.order.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(*Event)
		if e.ReceivedAt.Before(cutoff) {
			delete(s.entries, e.ID)
			s.order.Remove(el)
			evicted++
		}
	}
	return evicted, nil
}
