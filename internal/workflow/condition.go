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
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/forgecd/forge/pkg/ferrors"
)

// conditionEvaluator evaluates a step's Condition expression against
// {context: ..., results: ...}. Grounded on the teacher's
// pkg/workflow/expression.Evaluator: same compile-and-cache shape,
// narrowed to this system's two-variable (context/results) environment
// instead of the teacher's inputs/steps environment.
type conditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{cache: make(map[string]*vm.Program)}
}

func (e *conditionEvaluator) evaluate(expression string, wfCtx map[string]any, results map[string]*StepResult) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, &ferrors.ValidationInputError{
			Field:      "condition",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			Suggestion: "check expression syntax and ensure referenced variables exist",
		}
	}

	env := map[string]any{
		"context": wfCtx,
		"results": resultsAsEnv(results),
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, &ferrors.ValidationInputError{
			Field:      "condition",
			Message:    fmt.Sprintf("expression evaluation failed: %s", err.Error()),
			Suggestion: "verify that all referenced variables exist in the workflow context",
		}
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, &ferrors.ValidationInputError{
			Field:      "condition",
			Message:    fmt.Sprintf("expression must return boolean, got %T", result),
			Suggestion: "use comparison operators or boolean functions",
		}
	}
	return boolResult, nil
}

func (e *conditionEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

// resultsAsEnv flattens step results into plain maps so expressions can
// reference results.step_name.status / results.step_name.output.field.
func resultsAsEnv(results map[string]*StepResult) map[string]any {
	out := make(map[string]any, len(results))
	for name, r := range results {
		out[name] = map[string]any{
			"status": string(r.Status),
			"output": r.Output,
			"error":  r.Error,
		}
	}
	return out
}
