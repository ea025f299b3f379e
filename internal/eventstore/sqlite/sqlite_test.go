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

package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/forgecd/forge/internal/eventstore"
	"github.com/forgecd/forge/pkg/ferrors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Put(ctx, &eventstore.Event{
		Source:  eventstore.SourceSourceHost,
		Type:    "push",
		Payload: []byte(`{"ref":"main"}`),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != eventstore.StatusReceived {
		t.Errorf("expected received, got %s", got.Status)
	}
	if string(got.Payload) != `{"ref":"main"}` {
		t.Errorf("expected payload to round-trip, got %s", got.Payload)
	}
}

func TestUpdateStatusRejectsTerminalTransition(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, _ := s.Put(ctx, &eventstore.Event{Source: eventstore.SourceAgent, Type: "status"})
	if err := s.UpdateStatus(ctx, id, eventstore.StatusProcessed, "", nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.UpdateStatus(ctx, id, eventstore.StatusFailed, "boom", nil); err == nil {
		t.Error("expected terminal status to reject further transitions")
	}
}

func TestQueryOrdersByReceivedAtDescending(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	s.Put(ctx, &eventstore.Event{Source: eventstore.SourceSourceHost, Type: "push", ReceivedAt: time.Now().Add(-2 * time.Minute)})
	s.Put(ctx, &eventstore.Event{Source: eventstore.SourceSourceHost, Type: "pull_request", ReceivedAt: time.Now()})

	results, err := s.Query(ctx, 0, eventstore.Filters{Source: eventstore.SourceSourceHost})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Type != "pull_request" {
		t.Errorf("expected newest first, got %s", results[0].Type)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if ferrors.CategoryOf(err) != ferrors.CategoryNotFound {
		t.Errorf("expected NotFound, got %v", ferrors.CategoryOf(err))
	}
}

func TestCleanupDeletesOldRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	oldID, _ := s.Put(ctx, &eventstore.Event{Source: eventstore.SourceAgent, Type: "old", ReceivedAt: time.Now().Add(-2 * time.Hour)})
	newID, _ := s.Put(ctx, &eventstore.Event{Source: eventstore.SourceAgent, Type: "new"})

	n, err := s.Cleanup(ctx, time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row cleaned up, got %d", n)
	}
	if _, err := s.Get(ctx, oldID); ferrors.CategoryOf(err) != ferrors.CategoryNotFound {
		t.Error("expected old event to be gone")
	}
	if _, err := s.Get(ctx, newID); err != nil {
		t.Error("expected new event to survive")
	}
}
