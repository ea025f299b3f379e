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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgecd/forge/internal/clock"
)

func advanceClockInBackground(t *testing.T, clk *clock.Fake, stop <-chan struct{}) {
	t.Helper()
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				clk.Advance(50 * time.Millisecond)
			}
		}
	}()
}

func singleStepWorkflow(step *Step, clk clock.Clock) *Workflow {
	return newWorkflow("wf-1", "test", map[string]any{}, []*Step{step}, nil, nil, clk)
}

func TestExecuteCompletesOnAllStepsSucceeding(t *testing.T) {
	clk := clock.NewFake(time.Now())
	step := &Step{
		Name: "only",
		Run: func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	}
	wf := singleStepWorkflow(step, clk)

	if err := wf.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if wf.State() != StateCompleted {
		t.Errorf("expected completed, got %s", wf.State())
	}
	if wf.GetProgress() != 100 {
		t.Errorf("expected 100%% progress, got %v", wf.GetProgress())
	}
}

// TestStepRetrySucceedsOnThirdAttempt is scenario S5: a step whose Run
// fails twice then succeeds, with retryable=true, max_retries=3,
// retry_delay_ms=10, timeout_ms=1000. Expect workflow completed, the
// step's recorded attempts = 3.
func TestStepRetrySucceedsOnThirdAttempt(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)
	clk := clock.NewFake(time.Now())
	advanceClockInBackground(t, clk, stop)

	var calls int32
	step := &Step{
		Name:         "flaky",
		Retryable:    true,
		MaxRetries:   3,
		RetryDelayMS: 10,
		TimeoutMS:    1000,
		Run: func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
			n := atomic.AddInt32(&calls, 1)
			if n < 3 {
				return nil, errors.New("transient failure")
			}
			return map[string]any{"attempt": n}, nil
		},
	}
	wf := singleStepWorkflow(step, clk)

	if err := wf.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if wf.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", wf.State())
	}

	result := wf.BuildResult()
	if len(result.Steps) != 1 {
		t.Fatalf("expected 1 step result, got %d", len(result.Steps))
	}
	if result.Steps[0].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Steps[0].Attempts)
	}
	if result.Steps[0].Output["attempt"] != int32(3) {
		t.Errorf("expected third attempt's output to be recorded, got %v", result.Steps[0].Output["attempt"])
	}
}

func TestStepExhaustingRetriesFailsWorkflow(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)
	clk := clock.NewFake(time.Now())
	advanceClockInBackground(t, clk, stop)

	step := &Step{
		Name:         "always-fails",
		Retryable:    true,
		MaxRetries:   2,
		RetryDelayMS: 10,
		Run: func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
			return nil, errors.New("permanent failure")
		},
	}
	wf := singleStepWorkflow(step, clk)

	if err := wf.Execute(context.Background()); err == nil {
		t.Fatal("expected execute to return the step's final error")
	}
	if wf.State() != StateFailed {
		t.Errorf("expected failed, got %s", wf.State())
	}
}

func TestDependencyNotMetFailsWorkflowWithoutRunningStep(t *testing.T) {
	clk := clock.NewFake(time.Now())
	var called bool
	steps := []*Step{
		{Name: "first", Run: func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
			return nil, errors.New("first fails")
		}},
		{Name: "second", Dependencies: []string{"first"}, Run: func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
			called = true
			return nil, nil
		}},
	}
	wf := newWorkflow("wf-2", "test", map[string]any{}, steps, nil, nil, clk)

	if err := wf.Execute(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if called {
		t.Error("expected second step never to run since first failed")
	}
}

func TestConditionFalseSkipsStep(t *testing.T) {
	clk := clock.NewFake(time.Now())
	var called bool
	steps := []*Step{
		{Name: "maybe", Condition: "false", Run: func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
			called = true
			return nil, nil
		}},
	}
	wf := newWorkflow("wf-3", "test", map[string]any{}, steps, nil, nil, clk)

	if err := wf.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if called {
		t.Error("expected step with false condition never to run")
	}
	result := wf.BuildResult()
	if result.Steps[0].Status != StepSkipped {
		t.Errorf("expected skipped, got %s", result.Steps[0].Status)
	}
}

// TestCancellationCascade is scenario S6, narrowed to the workflow layer:
// a step that sleeps long past the test's patience, cancelled 200ms in.
// Expect the workflow to reach cancelled well inside the scenario's 6s
// bound.
func TestCancellationCascade(t *testing.T) {
	started := make(chan struct{})
	step := &Step{
		Name: "slow",
		Run: func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	wf := singleStepWorkflow(step, clock.Real())

	done := make(chan error, 1)
	go func() { done <- wf.Execute(context.Background()) }()

	<-started
	time.Sleep(200 * time.Millisecond)
	if err := wf.Cancel("test cancellation"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("expected workflow to reach a terminal state within 6s of cancellation")
	}

	if wf.State() != StateCancelled {
		t.Errorf("expected cancelled, got %s", wf.State())
	}
}

func TestPauseBlocksProgressUntilResume(t *testing.T) {
	clk := clock.NewFake(time.Now())
	var secondStarted int32
	steps := []*Step{
		{Name: "first", Run: func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
			return nil, nil
		}},
		{Name: "second", Run: func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
			atomic.StoreInt32(&secondStarted, 1)
			return nil, nil
		}},
	}
	wf := newWorkflow("wf-4", "test", map[string]any{}, steps, nil, nil, clk)

	// Pause before Execute even starts is illegal (only legal from
	// running); verify that, then drive a real pause/resume cycle via a
	// custom first step that pauses the workflow from within itself.
	if err := wf.Pause(); err == nil {
		t.Fatal("expected pause to be illegal before the workflow starts running")
	}

	steps[0].Run = func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			wf.Resume()
		}()
		return nil, wf.Pause()
	}

	done := make(chan error, 1)
	go func() { done <- wf.Execute(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected workflow to resume and complete")
	}
	if atomic.LoadInt32(&secondStarted) != 1 {
		t.Error("expected second step to run after resume")
	}
}
