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

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/internal/eventbus"
	"github.com/forgecd/forge/internal/workflow"
	"github.com/forgecd/forge/pkg/ferrors"
)

func echoConstructor(id string, wfCtx map[string]any, bus *eventbus.Bus, clk clock.Clock) *workflow.Workflow {
	h := workflow.DefaultTaskProcessingHandlers()
	return workflow.NewTaskProcessing(id, wfCtx, h, bus, clk)
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	e := New(Config{}, nil, clock.NewFake(time.Now()))
	if _, err := e.Create("nope", nil); err == nil {
		t.Fatal("expected an error for an unregistered kind")
	}
}

func TestCreateGatesOnMaxConcurrentWorkflows(t *testing.T) {
	e := New(Config{MaxConcurrentWorkflows: 1}, nil, clock.NewFake(time.Now()))
	e.Register("task_processing", echoConstructor)

	if _, err := e.Create("task_processing", map[string]any{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := e.Create("task_processing", map[string]any{})
	if err == nil {
		t.Fatal("expected the second create to be rejected")
	}
	if ferrors.CategoryOf(err) != ferrors.CategoryOverloaded {
		t.Errorf("expected Overloaded category, got %v", ferrors.CategoryOf(err))
	}
}

func TestExecuteArchivesOnCompletion(t *testing.T) {
	clk := clock.NewFake(time.Now())
	e := New(Config{ArchiveAfter: time.Hour}, nil, clk)
	e.Register("task_processing", echoConstructor)

	wf, err := e.Create("task_processing", map[string]any{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.Execute(context.Background(), wf); err != nil {
		t.Fatalf("execute: %v", err)
	}

	history := e.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 archived entry, got %d", len(history))
	}
	if history[0].State != workflow.StateCompleted {
		t.Errorf("expected completed, got %s", history[0].State)
	}

	if _, ok := e.Active(wf.ID); !ok {
		t.Error("expected the workflow to remain active during the grace period")
	}

	clk.Advance(2 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	if _, ok := e.Active(wf.ID); ok {
		t.Error("expected the workflow to be removed from active after the grace period")
	}
}

func TestShutdownCancelsActiveWorkflows(t *testing.T) {
	clk := clock.NewFake(time.Now())
	e := New(Config{}, nil, clk)

	started := make(chan struct{})
	e.Register("blocking", func(id string, wfCtx map[string]any, bus *eventbus.Bus, c clock.Clock) *workflow.Workflow {
		h := workflow.DefaultTaskProcessingHandlers()
		h.Initialize = func(ctx context.Context, wfCtx map[string]any, results map[string]*workflow.StepResult) (map[string]any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return workflow.NewTaskProcessing(id, wfCtx, h, bus, c)
	})

	wf, err := e.Create("blocking", map[string]any{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Execute(context.Background(), wf) }()
	<-started

	e.Shutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected shutdown to cancel the in-flight workflow promptly")
	}
	if wf.State() != workflow.StateCancelled {
		t.Errorf("expected cancelled, got %s", wf.State())
	}
}

func TestMaintenancePausesActiveWorkflows(t *testing.T) {
	clk := clock.NewFake(time.Now())
	e := New(Config{}, nil, clk)

	started := make(chan struct{})
	release := make(chan struct{})
	e.Register("pausable", func(id string, wfCtx map[string]any, bus *eventbus.Bus, c clock.Clock) *workflow.Workflow {
		h := workflow.DefaultTaskProcessingHandlers()
		h.Initialize = func(ctx context.Context, wfCtx map[string]any, results map[string]*workflow.StepResult) (map[string]any, error) {
			close(started)
			<-release
			return nil, nil
		}
		return workflow.NewTaskProcessing(id, wfCtx, h, bus, c)
	})

	wf, err := e.Create("pausable", map[string]any{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	go e.Execute(context.Background(), wf)
	<-started
	close(release)

	// Give the first step a moment to finish and the loop to reach its
	// pause checkpoint before the next step.
	time.Sleep(20 * time.Millisecond)
	e.Maintenance()

	if wf.State() != workflow.StatePaused && wf.State() != workflow.StateCompleted {
		t.Errorf("expected paused (or already completed if it raced ahead), got %s", wf.State())
	}
}
