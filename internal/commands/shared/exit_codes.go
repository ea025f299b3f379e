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

package shared

import (
	"errors"
	"fmt"
	"os"

	"github.com/forgecd/forge/pkg/ferrors"
)

// Exit codes for forgectl commands.
const (
	ExitSuccess     = 0
	ExitGeneral     = 1
	ExitUsage       = 2
	ExitUnreachable = 69 // EX_UNAVAILABLE from sysexits.h - forged could not be reached
)

// ExitError is an error that carries an exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExitError wraps cause into an ExitError carrying code.
func NewExitError(code int, msg string, cause error) *ExitError {
	return &ExitError{Code: code, Message: msg, Cause: cause}
}

// NewUnreachableError creates an ExitError for a forged connection failure.
func NewUnreachableError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitUnreachable, Message: msg, Cause: cause}
}

// HandleExitError prints err and exits with its carried code, or
// ExitGeneral if err is not an *ExitError.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		printValidationSuggestion(err)
		os.Exit(exitErr.Code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	printValidationSuggestion(err)
	os.Exit(ExitGeneral)
}

// printValidationSuggestion walks the error chain for a
// ferrors.ValidationInputError and prints its Suggestion field, if any.
func printValidationSuggestion(err error) {
	var validationErr *ferrors.ValidationInputError
	if errors.As(err, &validationErr) && validationErr.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", validationErr.Suggestion)
	}
}
