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

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/internal/eventbus"
)

// TaskProcessingHandlers supplies the RunFunc for each of
// TaskProcessing's six steps. The engine wires these to the real
// subsystems (workspace manager, processor, validation executor); tests
// and examples can use DefaultTaskProcessingHandlers for a no-op stand-in.
type TaskProcessingHandlers struct {
	Initialize          RunFunc
	AnalyzeRequirements RunFunc
	PlanExecution       RunFunc
	ExecuteProcessing   RunFunc
	ValidateResults     RunFunc
	Finalize            RunFunc
}

// DefaultTaskProcessingHandlers returns a handler set whose steps each
// echo their own name, useful for tests and as documentation of the
// step contract new handlers must satisfy.
func DefaultTaskProcessingHandlers() TaskProcessingHandlers {
	return TaskProcessingHandlers{
		Initialize:          passthroughStep("initialize"),
		AnalyzeRequirements: passthroughStep("analyze_requirements"),
		PlanExecution:       passthroughStep("plan_execution"),
		ExecuteProcessing:   passthroughStep("execute_processing"),
		ValidateResults:     passthroughStep("validate_results"),
		Finalize:            passthroughStep("finalize"),
	}
}

// NewTaskProcessing builds a TaskProcessing workflow: initialize ->
// analyze_requirements -> plan_execution -> execute_processing ->
// validate_results -> finalize (spec.md §4.G).
func NewTaskProcessing(id string, wfCtx map[string]any, h TaskProcessingHandlers, bus *eventbus.Bus, clk clock.Clock) *Workflow {
	steps := []*Step{
		{Name: "initialize", Run: h.Initialize},
		{Name: "analyze_requirements", Dependencies: []string{"initialize"}, Run: h.AnalyzeRequirements},
		{Name: "plan_execution", Dependencies: []string{"analyze_requirements"}, Run: h.PlanExecution},
		{Name: "execute_processing", Dependencies: []string{"plan_execution"}, Retryable: true, MaxRetries: 2, RetryDelayMS: 1000, Run: h.ExecuteProcessing},
		{Name: "validate_results", Dependencies: []string{"execute_processing"}, Run: h.ValidateResults},
		{Name: "finalize", Dependencies: []string{"validate_results"}, Run: h.Finalize},
	}
	return newWorkflow(id, "task_processing", wfCtx, steps, nil, bus, clk)
}

func passthroughStep(name string) RunFunc {
	return func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
		return map[string]any{"step": name}, nil
	}
}
