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

// Package engine is the workflow registry and lifecycle driver spec.md
// §4.F describes: kind -> constructor, a concurrency-gated active set,
// and history archival. Grounded on the teacher's
// internal/daemon/runner.Runner/execute (semaphore-gated concurrent run
// execution, a "stopped" channel for cancellation, checkpoint-style
// bookkeeping under a mutex), generalized from the teacher's single
// run-adapter model to a kind-keyed constructor registry.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/internal/eventbus"
	"github.com/forgecd/forge/internal/workflow"
	"github.com/forgecd/forge/pkg/ferrors"
)

const defaultArchiveGrace = 60 * time.Second

// Constructor builds a new workflow instance of one kind, given its id
// and input context.
type Constructor func(id string, wfCtx map[string]any, bus *eventbus.Bus, clk clock.Clock) *workflow.Workflow

// ArchiveEntry is a workflow's captured outcome: id, kind, status,
// result, error message (not a stack trace), and all lifecycle
// timestamps (spec.md §4.F).
type ArchiveEntry struct {
	ID         string
	Kind       string
	State      workflow.State
	Result     workflow.Result
	Error      string
	ArchivedAt time.Time
}

// Config configures an Engine.
type Config struct {
	MaxConcurrentWorkflows int
	ArchiveAfter           time.Duration
}

// Engine is the workflow registry and lifecycle driver.
type Engine struct {
	mu       sync.Mutex
	registry map[string]Constructor
	active   map[string]*workflow.Workflow
	history  []ArchiveEntry

	cfg   Config
	bus   *eventbus.Bus
	clock clock.Clock
}

// New builds an Engine. bus may be nil to run without event emission.
func New(cfg Config, bus *eventbus.Bus, clk clock.Clock) *Engine {
	if cfg.MaxConcurrentWorkflows <= 0 {
		cfg.MaxConcurrentWorkflows = 100
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = defaultArchiveGrace
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{
		registry: make(map[string]Constructor),
		active:   make(map[string]*workflow.Workflow),
		cfg:      cfg,
		bus:      bus,
		clock:    clk,
	}
}

// Register wires kind to the constructor the engine calls for Create.
func (e *Engine) Register(kind string, ctor Constructor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[kind] = ctor
}

// Create builds and registers a new workflow of kind, assigning it a
// unique id and placing it in the active set. Rejects with an
// *ferrors.OverloadedError once len(active) >= MaxConcurrentWorkflows.
func (e *Engine) Create(kind string, wfCtx map[string]any) (*workflow.Workflow, error) {
	e.mu.Lock()
	if len(e.active) >= e.cfg.MaxConcurrentWorkflows {
		e.mu.Unlock()
		return nil, &ferrors.OverloadedError{
			Gate:    "workflow-engine:active",
			Limit:   e.cfg.MaxConcurrentWorkflows,
			Current: len(e.active),
		}
	}
	ctor, ok := e.registry[kind]
	if !ok {
		e.mu.Unlock()
		return nil, &ferrors.ValidationInputError{Field: "kind", Message: fmt.Sprintf("unknown workflow kind %q", kind)}
	}

	id := uuid.NewString()
	wf := ctor(id, wfCtx, e.bus, e.clock)
	e.active[id] = wf
	e.mu.Unlock()

	e.emit(context.Background(), "workflow.created", map[string]any{"id": id, "kind": kind})
	return wf, nil
}

// Execute runs wf to completion, archiving it and scheduling its removal
// from the active set after the engine's grace period once it reaches a
// terminal state (spec.md §4.F).
func (e *Engine) Execute(ctx context.Context, wf *workflow.Workflow) error {
	err := wf.Execute(ctx)
	e.archive(wf)
	return err
}

func (e *Engine) archive(wf *workflow.Workflow) {
	result := wf.BuildResult()
	entry := ArchiveEntry{
		ID:         wf.ID,
		Kind:       wf.Kind,
		State:      wf.State(),
		Result:     result,
		Error:      result.Error,
		ArchivedAt: e.clock.Now(),
	}

	e.mu.Lock()
	e.history = append(e.history, entry)
	e.mu.Unlock()

	grace := e.cfg.ArchiveAfter
	go func() {
		<-e.clock.After(grace)
		e.mu.Lock()
		delete(e.active, wf.ID)
		e.mu.Unlock()
	}()
}

// Active returns the workflow registered under id, if still active.
func (e *Engine) Active(id string) (*workflow.Workflow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.active[id]
	return wf, ok
}

// ActiveCount returns the number of workflows currently in the active set.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// History returns every archived workflow outcome, oldest first.
func (e *Engine) History() []ArchiveEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ArchiveEntry, len(e.history))
	copy(out, e.history)
	return out
}

// Shutdown cancels every active workflow with reason "system_shutdown"
// (spec.md §4.F).
func (e *Engine) Shutdown() {
	e.mu.Lock()
	workflows := make([]*workflow.Workflow, 0, len(e.active))
	for _, wf := range e.active {
		workflows = append(workflows, wf)
	}
	e.mu.Unlock()

	for _, wf := range workflows {
		_ = wf.Cancel("system_shutdown")
	}
}

// Maintenance pauses every active, running workflow (spec.md §4.F).
func (e *Engine) Maintenance() {
	e.mu.Lock()
	workflows := make([]*workflow.Workflow, 0, len(e.active))
	for _, wf := range e.active {
		workflows = append(workflows, wf)
	}
	e.mu.Unlock()

	for _, wf := range workflows {
		_ = wf.Pause()
	}
}

func (e *Engine) emit(ctx context.Context, eventType string, data map[string]any) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(ctx, eventType, data, eventbus.PublishOptions{})
}
