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

	"github.com/forgecd/forge/pkg/ferrors"
)

// State is a workflow lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transitions are legal.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// transition describes one legal state change, keyed by event name.
type transition struct {
	from State
	to   State
}

// stateMachine enforces spec.md §4.G's legality rules: pause only from
// running, resume only from paused, cancel from created/running/paused.
// Grounded on the teacher's workflow.StateMachine, extended with a
// cancelled terminal state the teacher's DefaultTransitions lacks.
type stateMachine struct {
	transitions map[string][]transition
}

func newStateMachine() *stateMachine {
	sm := &stateMachine{transitions: make(map[string][]transition)}
	add := func(event string, from, to State) {
		sm.transitions[event] = append(sm.transitions[event], transition{from: from, to: to})
	}
	add("start", StateCreated, StateRunning)
	add("pause", StateRunning, StatePaused)
	add("resume", StatePaused, StateRunning)
	add("complete", StateRunning, StateCompleted)
	add("fail", StateRunning, StateFailed)
	add("fail", StatePaused, StateFailed)
	add("cancel", StateCreated, StateCancelled)
	add("cancel", StateRunning, StateCancelled)
	add("cancel", StatePaused, StateCancelled)
	return sm
}

// trigger returns the new state for event fired from current, or a
// *ferrors.ValidationInputError if no such transition is legal.
func (sm *stateMachine) trigger(current State, event string) (State, error) {
	for _, t := range sm.transitions[event] {
		if t.from == current {
			return t.to, nil
		}
	}
	return current, &ferrors.ValidationInputError{
		Field:      "state",
		Message:    fmt.Sprintf("transition not allowed: from %s on event %s", current, event),
		Suggestion: "check the workflow's current state before triggering this event",
	}
}
