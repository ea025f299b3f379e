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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/internal/eventbus"
	"github.com/forgecd/forge/internal/workspace"
	"github.com/forgecd/forge/pkg/ferrors"
	"github.com/forgecd/forge/pkg/security/sandbox"
)

// Config configures an Executor. Zero values take spec.md §4.I defaults.
type Config struct {
	MaxConcurrentValidations int
	CloneDepth               int
	GitTimeout               time.Duration
	ValidationTimeout        time.Duration
	MaxRetries               int
	JanitorInterval          time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentValidations <= 0 {
		c.MaxConcurrentValidations = 10
	}
	if c.CloneDepth <= 0 {
		c.CloneDepth = defaultCloneDepth
	}
	if c.GitTimeout <= 0 {
		c.GitTimeout = 300 * time.Second
	}
	if c.ValidationTimeout <= 0 {
		c.ValidationTimeout = 600 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Hour
	}
}

// Executor runs validation requests end to end under a concurrency gate
// (spec.md §4.I).
type Executor struct {
	cfg            Config
	workspaces     *workspace.Manager
	sandboxFactory sandbox.Factory
	bus            *eventbus.Bus
	clock          clock.Clock
	metrics        *Metrics

	mu       sync.Mutex
	active   map[string]*Record
	cancels  map[string]context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds an Executor. sandboxFactory may be nil to disable sandboxing
// regardless of what a request requests.
func New(cfg Config, workspaces *workspace.Manager, sandboxFactory sandbox.Factory, bus *eventbus.Bus, clk clock.Clock) *Executor {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.Real()
	}
	return &Executor{
		cfg:            cfg,
		workspaces:     workspaces,
		sandboxFactory: sandboxFactory,
		bus:            bus,
		clock:          clk,
		metrics:        &Metrics{},
		active:         make(map[string]*Record),
		cancels:        make(map[string]context.CancelFunc),
		stopCh:         make(chan struct{}),
	}
}

// ActiveCount returns the number of validations currently in flight.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Metrics returns a snapshot of the executor's counters.
func (e *Executor) Metrics() Snapshot {
	return e.metrics.Snapshot()
}

// Cancel signals the named validation's in-flight step and subprocess to
// terminate (spec.md §4.I). Returns false if id isn't active.
func (e *Executor) Cancel(id string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Run executes req to completion, returning a *ferrors.OverloadedError
// immediately if the concurrency gate is already full.
func (e *Executor) Run(ctx context.Context, req Request) (*Report, error) {
	e.mu.Lock()
	if len(e.active) >= e.cfg.MaxConcurrentValidations {
		e.mu.Unlock()
		return nil, &ferrors.OverloadedError{
			Gate:    "validation-executor:active",
			Limit:   e.cfg.MaxConcurrentValidations,
			Current: len(e.active),
		}
	}
	id, err := generateValidationID(e.clock.Now())
	if err != nil {
		e.mu.Unlock()
		return nil, &ferrors.InternalError{Op: "validation.generate_id", Cause: err}
	}
	record := &Record{ID: id, Request: req, Status: StatusInitializing, StartedAt: e.clock.Now()}
	runCtx, cancel := context.WithCancel(ctx)
	e.active[id] = record
	e.cancels[id] = cancel
	e.mu.Unlock()

	e.metrics.enter()
	started := e.clock.Now()

	var ws *workspace.Workspace
	var sb sandbox.Sandbox
	defer func() {
		if sb != nil {
			_ = sb.Cleanup()
		}
		if ws != nil {
			e.workspaces.Cleanup(context.Background(), ws)
		}
		e.mu.Lock()
		delete(e.active, id)
		delete(e.cancels, id)
		e.mu.Unlock()
		cancel()
	}()

	report, runErr := e.run(runCtx, id, req, record, &ws, &sb)
	duration := e.clock.Now().Sub(started)
	e.metrics.leave(runErr == nil, duration)
	return report, runErr
}

func (e *Executor) run(ctx context.Context, id string, req Request, record *Record, wsOut **workspace.Workspace, sbOut *sandbox.Sandbox) (*Report, error) {
	setStatus := func(s Status) {
		e.mu.Lock()
		record.Status = s
		e.mu.Unlock()
		e.emit(ctx, "validation."+string(s), map[string]any{"id": id})
	}

	if ctx.Err() != nil {
		return e.cancelledReport(id, record.StartedAt), &ferrors.CancelledError{Reason: "validation cancelled before start"}
	}

	ws, err := e.workspaces.Create(ctx, id, req.RepoURL, req.Config)
	if err != nil {
		return e.failedReport(id, record.StartedAt, err), err
	}
	*wsOut = ws
	setStatus(StatusWorkspaceCreated)

	if ctx.Err() != nil {
		return e.cancelledReport(id, record.StartedAt), &ferrors.CancelledError{Reason: "validation cancelled after workspace creation"}
	}

	srcDir := filepath.Join(ws.Path, "src")
	if err := withBackoff(ctx, e.clock, e.cfg.MaxRetries, func(ctx context.Context) error {
		return cloneRepository(ctx, req, srcDir, e.cfg.CloneDepth, e.cfg.GitTimeout)
	}); err != nil {
		if ctx.Err() != nil {
			return e.cancelledReport(id, record.StartedAt), &ferrors.CancelledError{Reason: "validation cancelled during clone"}
		}
		return e.failedReport(id, record.StartedAt, err), err
	}
	setStatus(StatusRepositoryCloned)

	if req.SandboxMode && e.sandboxFactory != nil {
		sb, err := e.sandboxFactory.Create(ctx, sandbox.Config{WorkflowID: id, WorkDir: srcDir})
		if err != nil {
			return e.failedReport(id, record.StartedAt, err), err
		}
		*sbOut = sb
		setStatus(StatusSandboxReady)
	}

	if ctx.Err() != nil {
		return e.cancelledReport(id, record.StartedAt), &ferrors.CancelledError{Reason: "validation cancelled before run"}
	}

	setStatus(StatusValidating)
	var result subprocessResult
	runCtx, runCancel := context.WithTimeout(ctx, e.cfg.ValidationTimeout)
	defer runCancel()
	err = withBackoff(runCtx, e.clock, e.cfg.MaxRetries, func(ctx context.Context) error {
		r, rerr := runSubprocess(ctx, req.Command, req.Args, srcDir, req.Env)
		result = r
		return rerr
	})
	if err != nil {
		if ctx.Err() != nil {
			return e.cancelledReport(id, record.StartedAt), &ferrors.CancelledError{Reason: "validation cancelled during run"}
		}
		return e.failedReport(id, record.StartedAt, err), err
	}

	setStatus(StatusReporting)
	finished := e.clock.Now()
	report := &Report{
		ValidationID: id,
		Status:       StatusFinished,
		ExitCode:     result.ExitCode,
		Stdout:       result.Stdout,
		Stderr:       result.Stderr,
		StartedAt:    record.StartedAt,
		FinishedAt:   finished,
		Duration:     finished.Sub(record.StartedAt),
	}
	record.Report = report
	setStatus(StatusFinished)
	return report, nil
}

func (e *Executor) failedReport(id string, startedAt time.Time, err error) *Report {
	finished := e.clock.Now()
	return &Report{
		ValidationID: id,
		Status:       StatusFailed,
		Error:        err.Error(),
		StartedAt:    startedAt,
		FinishedAt:   finished,
		Duration:     finished.Sub(startedAt),
	}
}

func (e *Executor) cancelledReport(id string, startedAt time.Time) *Report {
	finished := e.clock.Now()
	return &Report{
		ValidationID: id,
		Status:       StatusCancelled,
		StartedAt:    startedAt,
		FinishedAt:   finished,
		Duration:     finished.Sub(startedAt),
	}
}

func (e *Executor) emit(ctx context.Context, eventType string, data map[string]any) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(ctx, eventType, data, eventbus.PublishOptions{})
}

// StartJanitor runs a periodic sweep that calls the workspace manager's
// age-based cleanup (spec.md §4.I). Stop halts it.
func (e *Executor) StartJanitor() {
	go func() {
		for {
			select {
			case <-e.stopCh:
				return
			case <-e.clock.After(e.cfg.JanitorInterval):
				e.workspaces.CleanupOld(context.Background(), 0)
			}
		}
	}()
}

// Stop halts the janitor goroutine. Safe to call more than once.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func generateValidationID(ts time.Time) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("val_%d_%s", ts.UnixNano(), hex.EncodeToString(buf)), nil
}
