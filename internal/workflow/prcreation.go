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

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/internal/eventbus"
	"github.com/forgecd/forge/pkg/ferrors"
)

// PRCreationHandlers supplies the RunFunc for each of PRCreation's six
// steps. ValidateChanges is expected to set output["has_blocker"] = true
// when it finds an error-level blocker; CreatePR then aborts rather than
// running (spec.md §4.G).
type PRCreationHandlers struct {
	Prepare         RunFunc
	GenerateContent RunFunc
	ValidateChanges RunFunc
	CreatePR        RunFunc
	ConfigurePR     RunFunc
	Notify          RunFunc
}

// DefaultPRCreationHandlers returns a handler set whose steps each echo
// their own name and report no blocker, for tests and as documentation.
func DefaultPRCreationHandlers() PRCreationHandlers {
	return PRCreationHandlers{
		Prepare:         passthroughStep("prepare"),
		GenerateContent: passthroughStep("generate_content"),
		ValidateChanges: passthroughStep("validate_changes"),
		CreatePR:        passthroughStep("create_pr"),
		ConfigurePR:     passthroughStep("configure_pr"),
		Notify:          passthroughStep("notify"),
	}
}

// NewPRCreation builds a PRCreation workflow: prepare -> generate_content
// -> validate_changes -> create_pr -> configure_pr -> notify. create_pr
// aborts the workflow if validate_changes reported an error-level
// blocker (spec.md §4.G).
func NewPRCreation(id string, wfCtx map[string]any, h PRCreationHandlers, bus *eventbus.Bus, clk clock.Clock) *Workflow {
	createPR := h.CreatePR
	abortOnBlocker := func(ctx context.Context, wfCtx map[string]any, results map[string]*StepResult) (map[string]any, error) {
		if r, ok := results["validate_changes"]; ok && r.Output != nil {
			if blocker, _ := r.Output["has_blocker"].(bool); blocker {
				return nil, &ferrors.StepError{
					Step:       "create_pr",
					Underlying: errors.New("aborted: validate_changes reported an error-level blocker"),
					RetryableV: false,
				}
			}
		}
		return createPR(ctx, wfCtx, results)
	}

	steps := []*Step{
		{Name: "prepare", Run: h.Prepare},
		{Name: "generate_content", Dependencies: []string{"prepare"}, Run: h.GenerateContent},
		{Name: "validate_changes", Dependencies: []string{"generate_content"}, Run: h.ValidateChanges},
		{Name: "create_pr", Dependencies: []string{"validate_changes"}, Run: abortOnBlocker},
		{Name: "configure_pr", Dependencies: []string{"create_pr"}, Run: h.ConfigurePR},
		{Name: "notify", Dependencies: []string{"configure_pr"}, Run: h.Notify},
	}
	return newWorkflow(id, "pr_creation", wfCtx, steps, nil, bus, clk)
}
