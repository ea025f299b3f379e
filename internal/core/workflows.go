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

package core

import (
	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/internal/eventbus"
	"github.com/forgecd/forge/internal/workflow"
	"github.com/forgecd/forge/internal/workflow/engine"
)

// registerWorkflowKinds wires spec.md §4.G's three concrete workflow
// kinds into e's registry under the kind names spec.md §6's
// /webhooks/agent/trigger route accepts.
//
// Each kind's step bodies (workflow.Default*Handlers) are the pass/fail
// contract documented on those handler sets, not live integrations with
// an external PR host or task queue - SPEC_FULL.md's non-goals exclude
// any concrete third-party PR-provider or task-processing backend, so
// there is nothing in scope for these steps to call out to beyond the
// step-sequence, retry, and timeout machinery internal/workflow already
// implements. A deployment that needs real side effects supplies its own
// handler set to registerWorkflowKinds in place of the defaults.
func registerWorkflowKinds(e *engine.Engine, bus *eventbus.Bus, clk clock.Clock) {
	taskHandlers := workflow.DefaultTaskProcessingHandlers()
	e.Register("task_processing", func(id string, wfCtx map[string]any, bus *eventbus.Bus, clk clock.Clock) *workflow.Workflow {
		return workflow.NewTaskProcessing(id, wfCtx, taskHandlers, bus, clk)
	})

	prHandlers := workflow.DefaultPRCreationHandlers()
	e.Register("pr_creation", func(id string, wfCtx map[string]any, bus *eventbus.Bus, clk clock.Clock) *workflow.Workflow {
		return workflow.NewPRCreation(id, wfCtx, prHandlers, bus, clk)
	})

	validationHandlers := workflow.DefaultValidationHandlers()
	e.Register("validation", func(id string, wfCtx map[string]any, bus *eventbus.Bus, clk clock.Clock) *workflow.Workflow {
		return workflow.NewValidation(id, wfCtx, validationHandlers, bus, clk)
	})
}
