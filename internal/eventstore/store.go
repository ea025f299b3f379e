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
	"context"
	"time"
)

// Filters narrows a Query to events matching all non-zero fields.
type Filters struct {
	Source Source
	Type   string
	Status Status
}

func (f Filters) matches(e *Event) bool {
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

// Metrics aggregates event counts and timing over a timeframe window
// (spec.md §4.C).
type Metrics struct {
	CountByType        map[string]int
	CountByStatus      map[Status]int
	CountBySource      map[Source]int
	SuccessRate        float64 // processed / (processed + failed + failed_permanently)
	AverageProcessTime time.Duration
}

// Store is the event persistence contract. Implementations must be
// safe for concurrent use and must never allow a terminal status to
// transition (spec.md §3 invariant).
type Store interface {
	// Put assigns an id (if e.ID is empty) and persists e, setting its
	// status to StatusReceived if e.Status is empty, and returns the id.
	Put(ctx context.Context, e *Event) (string, error)

	// UpdateStatus transitions id to status, recording errMsg (empty if
	// none) and merging metadata. Returns an error if id is unknown or
	// its current status is terminal.
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string, metadata map[string]string) error

	// Get returns the event with id, or a *ferrors.NotFoundError.
	Get(ctx context.Context, id string) (*Event, error)

	// Query returns up to limit events matching filters, newest
	// received_at first. limit ≤ 0 means unlimited.
	Query(ctx context.Context, limit int, filters Filters) ([]*Event, error)

	// Metrics aggregates events received within [now-timeframe, now].
	Metrics(ctx context.Context, timeframe time.Duration) (Metrics, error)

	// Cleanup evicts events whose ReceivedAt is older than maxAge.
	// Returns the number evicted.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}
