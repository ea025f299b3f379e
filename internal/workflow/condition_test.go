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

import "testing"

func TestConditionEmptyExpressionDefaultsTrue(t *testing.T) {
	e := newConditionEvaluator()
	ok, err := e.evaluate("", nil, nil)
	if err != nil || !ok {
		t.Errorf("expected true, nil; got %v, %v", ok, err)
	}
}

func TestConditionReferencesContextAndResults(t *testing.T) {
	e := newConditionEvaluator()
	wfCtx := map[string]any{"mode": "strict"}
	results := map[string]*StepResult{
		"check": {Status: StepSucceeded, Output: map[string]any{"passed": true}},
	}

	ok, err := e.evaluate(`context.mode == "strict" && results.check.output.passed == true`, wfCtx, results)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok {
		t.Error("expected condition to be true")
	}
}

func TestConditionNonBooleanResultIsAnError(t *testing.T) {
	e := newConditionEvaluator()
	if _, err := e.evaluate(`"not a bool"`, nil, nil); err == nil {
		t.Error("expected an error for a non-boolean expression result")
	}
}

func TestConditionCompilesOnceAndCaches(t *testing.T) {
	e := newConditionEvaluator()
	expr := "context.enabled == true"
	if _, err := e.evaluate(expr, map[string]any{"enabled": true}, nil); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	e.mu.RLock()
	_, cached := e.cache[expr]
	e.mu.RUnlock()
	if !cached {
		t.Error("expected the compiled expression to be cached")
	}
}
