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

package workspace

import "time"

// Status is the lifecycle state of a sandboxed validation workspace.
type Status string

const (
	StatusActive        Status = "active"
	StatusCleaning      Status = "cleaning"
	StatusRemoved       Status = "removed"
	StatusCleanupFailed Status = "cleanup_failed"
)

// subdirs are created under every workspace root (spec.md §4.H).
var subdirs = []string{"src", "tests", "logs", "reports", "temp"}

const metadataFileName = ".workspace-metadata.json"

// Workspace is an isolated filesystem sandbox a single validation run
// executes in: a directory tree rooted at Path, with a fixed set of
// subdirectories and a metadata file describing how it was created.
type Workspace struct {
	ID           string         `json:"workspace_id"`
	ValidationID string         `json:"validation_id"`
	RequestRef   string         `json:"request_ref"`
	Path         string         `json:"-"`
	Config       map[string]any `json:"config"`
	CreatedAt    time.Time      `json:"created_at"`
	Status       Status         `json:"-"`
}

// metadata is the JSON document written to .workspace-metadata.json,
// the on-disk record of how a workspace was provisioned (spec.md §4.H).
type metadata struct {
	WorkspaceID  string         `json:"workspace_id"`
	ValidationID string         `json:"validation_id"`
	RequestRef   string         `json:"request_ref"`
	CreatedAt    time.Time      `json:"created_at"`
	Config       map[string]any `json:"config"`
}
