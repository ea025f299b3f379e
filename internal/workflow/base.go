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

package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/internal/eventbus"
	"github.com/forgecd/forge/pkg/ferrors"
)

// ValidateFunc checks a workflow's input context before it is allowed to
// run. Each concrete kind supplies its own.
type ValidateFunc func(wfCtx map[string]any) error

// Workflow is a single running (or finished) workflow instance. It
// implements the base contract spec.md §4.G names: validate_context,
// steps, execute, build_result, get_progress, pause, resume, cancel.
// Grounded on the teacher's workflow.Workflow + StateMachine, generalized
// from the teacher's single DefaultTransitions set (no cancel state) to
// the cancellable lifecycle spec.md requires, and from the teacher's
// LLM/tool/integration step kinds to the plain RunFunc steps this
// system's three concrete kinds use.
type Workflow struct {
	ID   string
	Kind string

	mu    sync.Mutex
	sm    *stateMachine
	state State

	wfContext map[string]any
	steps     []*Step
	validate  ValidateFunc
	cond      *conditionEvaluator

	results        map[string]*StepResult
	orderedResults []*StepResult
	currentIndex   int
	errMsg         string

	createdAt   time.Time
	updatedAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	cancelReason string
	cancelled    bool
	resumeCh     chan struct{}
	runCancel    context.CancelFunc

	bus   *eventbus.Bus
	clock clock.Clock
}

// newWorkflow builds a Workflow in StateCreated. bus and clk may be nil
// (nil bus skips event emission; nil clock uses the real clock).
func newWorkflow(id, kind string, wfCtx map[string]any, steps []*Step, validate ValidateFunc, bus *eventbus.Bus, clk clock.Clock) *Workflow {
	if clk == nil {
		clk = clock.Real()
	}
	now := clk.Now()
	return &Workflow{
		ID:        id,
		Kind:      kind,
		sm:        newStateMachine(),
		state:     StateCreated,
		wfContext: wfCtx,
		steps:     steps,
		validate:  validate,
		cond:      newConditionEvaluator(),
		results:   make(map[string]*StepResult),
		createdAt: now,
		updatedAt: now,
		bus:       bus,
		clock:     clk,
	}
}

// State returns the workflow's current lifecycle state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// ValidateContext checks the workflow's input context is well-formed.
func (w *Workflow) ValidateContext() error {
	if w.validate == nil {
		return nil
	}
	return w.validate(w.wfContext)
}

// Steps returns the workflow's deterministic step list.
func (w *Workflow) Steps() []*Step {
	return w.steps
}

// GetProgress returns current_step_index / len(steps) * 100, or 100 once
// the workflow has reached a terminal state.
func (w *Workflow) GetProgress() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.IsTerminal() {
		return 100
	}
	if len(w.steps) == 0 {
		return 0
	}
	return float64(w.currentIndex) / float64(len(w.steps)) * 100
}

// BuildResult snapshots the workflow's final (or current) outcome.
func (w *Workflow) BuildResult() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	steps := make([]*StepResult, len(w.orderedResults))
	copy(steps, w.orderedResults)
	return Result{
		ID:       w.ID,
		Kind:     w.Kind,
		State:    w.state,
		Steps:    steps,
		Error:    w.errMsg,
		Started:  w.startedAt,
		Finished: w.completedAt,
	}
}

// Pause suspends execution before the next step boundary. Legal only
// from running.
func (w *Workflow) Pause() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, err := w.sm.trigger(w.state, "pause")
	if err != nil {
		return err
	}
	w.state = next
	w.updatedAt = w.clock.Now()
	w.resumeCh = make(chan struct{})
	return nil
}

// Resume continues execution after a Pause. Legal only from paused.
func (w *Workflow) Resume() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, err := w.sm.trigger(w.state, "resume")
	if err != nil {
		return err
	}
	w.state = next
	w.updatedAt = w.clock.Now()
	if w.resumeCh != nil {
		close(w.resumeCh)
		w.resumeCh = nil
	}
	return nil
}

// Cancel requests cancellation with reason, legal from
// created/running/paused. It preempts any in-flight step wait.
func (w *Workflow) Cancel(reason string) error {
	w.mu.Lock()
	next, err := w.sm.trigger(w.state, "cancel")
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.state = next
	w.cancelReason = reason
	w.cancelled = true
	w.updatedAt = w.clock.Now()
	now := w.clock.Now()
	w.completedAt = now
	cancel := w.runCancel
	resumeCh := w.resumeCh
	w.resumeCh = nil
	w.mu.Unlock()

	if resumeCh != nil {
		close(resumeCh)
	}
	if cancel != nil {
		cancel()
	}
	w.emit(context.Background(), "workflow.cancelled", map[string]any{"id": w.ID, "reason": reason})
	return nil
}

// Execute runs the workflow's step list in order, transitioning through
// running to completed/failed/cancelled (spec.md §4.F/§4.G).
func (w *Workflow) Execute(ctx context.Context) error {
	w.mu.Lock()
	next, err := w.sm.trigger(w.state, "start")
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.state = next
	w.startedAt = w.clock.Now()
	w.updatedAt = w.startedAt
	execCtx, cancel := context.WithCancel(ctx)
	w.runCancel = cancel
	w.mu.Unlock()
	defer cancel()

	w.emit(execCtx, "workflow.started", map[string]any{"id": w.ID, "kind": w.Kind})

	for i, step := range w.steps {
		if waitErr := w.waitIfPaused(execCtx); waitErr != nil {
			return w.finish(execCtx, StateCancelled, waitErr)
		}
		if w.isCancelled() {
			return w.finish(execCtx, StateCancelled, &ferrors.CancelledError{Reason: w.cancelReason})
		}

		w.mu.Lock()
		w.currentIndex = i
		w.mu.Unlock()

		result, stepErr := w.runStep(execCtx, step)
		w.mu.Lock()
		w.results[step.Name] = result
		w.orderedResults = append(w.orderedResults, result)
		w.mu.Unlock()

		if stepErr != nil {
			if w.isCancelled() {
				return w.finish(execCtx, StateCancelled, &ferrors.CancelledError{Reason: w.cancelReason})
			}
			return w.finish(execCtx, StateFailed, stepErr)
		}
	}

	w.mu.Lock()
	w.currentIndex = len(w.steps)
	w.mu.Unlock()
	return w.finish(execCtx, StateCompleted, nil)
}

func (w *Workflow) isCancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

func (w *Workflow) waitIfPaused(ctx context.Context) error {
	for {
		w.mu.Lock()
		state := w.state
		ch := w.resumeCh
		w.mu.Unlock()
		if state != StatePaused {
			return nil
		}
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Workflow) finish(ctx context.Context, target State, cause error) error {
	w.mu.Lock()
	if w.state == StateCancelled {
		// Cancel() already performed the transition and set completedAt.
		w.mu.Unlock()
		w.emit(ctx, "workflow.cancelled", map[string]any{"id": w.ID, "reason": w.cancelReason})
		return cause
	}

	event := "fail"
	if target == StateCompleted {
		event = "complete"
	}
	next, err := w.sm.trigger(w.state, event)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.state = next
	w.completedAt = w.clock.Now()
	w.updatedAt = w.completedAt
	if cause != nil {
		w.errMsg = cause.Error()
	}
	w.mu.Unlock()

	if target == StateCompleted {
		w.emit(ctx, "workflow.completed", map[string]any{"id": w.ID})
		return nil
	}
	w.emit(ctx, "workflow.failed", map[string]any{"id": w.ID, "error": w.errMsg})
	return cause
}

// runStep executes one step: condition, dependency, timeout, then
// retries on failure per the step's Retryable/MaxRetries/RetryDelayMS
// (spec.md §4.G step execution order).
func (w *Workflow) runStep(ctx context.Context, step *Step) (*StepResult, error) {
	result := &StepResult{Name: step.Name, StartedAt: w.clock.Now(), Status: StepRunning}

	w.mu.Lock()
	results := copyResults(w.results)
	wfCtx := w.wfContext
	w.mu.Unlock()

	shouldRun, err := w.cond.evaluate(step.Condition, wfCtx, results)
	if err != nil {
		result.Status = StepFailed
		result.Error = err.Error()
		result.CompletedAt = w.clock.Now()
		return result, err
	}
	if !shouldRun {
		result.Status = StepSkipped
		result.CompletedAt = w.clock.Now()
		return result, nil
	}

	for _, dep := range step.Dependencies {
		depResult, ok := results[dep]
		if !ok || depResult.Status != StepSucceeded {
			err := &ferrors.StepError{
				Step:       step.Name,
				Underlying: fmt.Errorf("dependency %q not met", dep),
				RetryableV: false,
			}
			result.Status = StepFailed
			result.Error = err.Error()
			result.CompletedAt = w.clock.Now()
			return result, err
		}
	}

	w.emit(ctx, "workflow.step.started", map[string]any{"workflow_id": w.ID, "step": step.Name})

	output, attempts, runErr := w.runWithRetry(ctx, step)
	result.Attempts = attempts
	result.Output = output
	result.CompletedAt = w.clock.Now()

	if runErr != nil {
		result.Status = StepFailed
		result.Error = runErr.Error()
		w.emit(ctx, "workflow.step.failed", map[string]any{"workflow_id": w.ID, "step": step.Name, "error": runErr.Error()})
		return result, runErr
	}

	result.Status = StepSucceeded
	w.emit(ctx, "workflow.step.completed", map[string]any{"workflow_id": w.ID, "step": step.Name})
	return result, nil
}

// runWithRetry bounds each attempt by step.TimeoutMS and, on a retryable
// failure, waits RetryDelayMS before the next attempt (up to MaxRetries),
// mirroring the teacher's executeWithRetry but against a fixed per-step
// delay rather than the teacher's multiplicative backoff.
func (w *Workflow) runWithRetry(ctx context.Context, step *Step) (map[string]any, int, error) {
	maxAttempts := 1
	if step.Retryable && step.MaxRetries > 0 {
		maxAttempts = step.MaxRetries + 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if step.TimeoutMS > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMS)*time.Millisecond)
		}

		output, err := step.Run(attemptCtx, w.wfContext, w.snapshotResults())
		if cancel != nil {
			if attemptCtx.Err() == context.DeadlineExceeded {
				err = &ferrors.TimeoutError{Operation: "step " + step.Name, Duration: time.Duration(step.TimeoutMS) * time.Millisecond}
			}
			cancel()
		}

		if err == nil {
			return output, attempt, nil
		}
		lastErr = err

		if !step.Retryable || attempt == maxAttempts {
			return output, attempt, lastErr
		}

		delay := time.Duration(step.RetryDelayMS) * time.Millisecond
		select {
		case <-ctx.Done():
			return output, attempt, ctx.Err()
		case <-w.clock.After(delay):
		}
	}
	return nil, maxAttempts, lastErr
}

func (w *Workflow) snapshotResults() map[string]*StepResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return copyResults(w.results)
}

func copyResults(results map[string]*StepResult) map[string]*StepResult {
	out := make(map[string]*StepResult, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out
}

func (w *Workflow) emit(ctx context.Context, eventType string, data map[string]any) {
	if w.bus == nil {
		return
	}
	_ = w.bus.Publish(ctx, eventType, data, eventbus.PublishOptions{})
}
