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

// Package validation runs one validation request end to end (spec.md
// §4.I): it provisions a workspace, clones the target repository,
// optionally opens a sandbox, supervises the validation tool as a
// subprocess, and produces a report, all under a single concurrency
// gate. Grounded on the teacher's internal/action/shell.ShellConnector
// (exec.CommandContext + separate stdout/stderr capture) for subprocess
// supervision and pkg/security/sandbox for optional process isolation.
package validation

import "time"

// Status is the lifecycle state of one validation run (spec.md §4.I).
type Status string

const (
	StatusInitializing     Status = "initializing"
	StatusWorkspaceCreated Status = "workspace_created"
	StatusRepositoryCloned Status = "repository_cloned"
	StatusSandboxReady     Status = "sandbox_ready"
	StatusValidating       Status = "validating"
	StatusReporting        Status = "reporting"
	StatusFinished         Status = "finished"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// Request describes one unit of work submitted to the executor.
type Request struct {
	ID          string
	RepoURL     string
	Ref         string
	Command     string
	Args        []string
	Env         map[string]string
	Config      map[string]any
	SandboxMode bool
}

// Report is the outcome of a validation run.
type Report struct {
	ValidationID string
	Status       Status
	ExitCode     int
	Stdout       string
	Stderr       string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Duration     time.Duration
}

// Record is the executor's bookkeeping entry for an in-flight or
// completed validation.
type Record struct {
	ID        string
	Request   Request
	Status    Status
	StartedAt time.Time
	Report    *Report
}
