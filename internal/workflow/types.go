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

// Package workflow implements Forge's workflow state machine, step
// execution pipeline, and the three concrete workflow kinds (spec.md
// §4.G). Grounded on the teacher's pkg/workflow package: the state
// machine on workflow.go's State/Transition/StateMachine, and the step
// execution order on executor.go's Execute/executeWithRetry, narrowed
// from the teacher's LLM/tool/integration step types to the plain
// func-based steps this system's three workflow kinds need.
package workflow

import (
	"context"
	"time"
)

// StepStatus is the outcome of one step's execution attempt.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records one step's final outcome.
type StepResult struct {
	Name        string
	Status      StepStatus
	Output      map[string]any
	Error       string
	Attempts    int
	StartedAt   time.Time
	CompletedAt time.Time
}

// RunFunc is a step's body. ctx is cancelled if the step's timeout
// elapses or the workflow is cancelled mid-step. wfCtx is the
// workflow's input context; results holds every prior step's output,
// keyed by step name, so later steps can read earlier ones.
type RunFunc func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error)

// Step is one unit of work in a workflow's deterministic step list.
type Step struct {
	Name string

	// Condition is an expr-lang boolean expression evaluated against
	// {context: wfCtx, results: results}. Empty always runs.
	Condition string

	// Dependencies names steps that must have StepSucceeded before this
	// one runs.
	Dependencies []string

	TimeoutMS int

	Retryable    bool
	MaxRetries   int
	RetryDelayMS int

	Run RunFunc
}

// Result is the final, externally reported outcome of a workflow run.
type Result struct {
	ID       string
	Kind     string
	State    State
	Steps    []*StepResult
	Error    string
	Started  time.Time
	Finished time.Time
}
