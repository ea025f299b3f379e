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
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/forgecd/forge/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace.BaseDir = filepath.Join(t.TempDir(), "workspaces")
	cfg.Signature.SourceHostSecret = "s3cr3t"
	return cfg
}

func TestNewWiresEverySubsystem(t *testing.T) {
	c, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Store == nil || c.Bus == nil || c.Processor == nil || c.Engine == nil ||
		c.Workspaces == nil || c.Validation == nil || c.RateLimiter == nil {
		t.Fatal("expected every required subsystem to be non-nil")
	}
	if _, ok := c.Verifiers["source_host"]; !ok {
		t.Error("expected a source_host verifier since its secret was configured")
	}
	if _, ok := c.Verifiers["issue_tracker"]; ok {
		t.Error("expected no issue_tracker verifier since its secret was left empty")
	}
}

func TestServerServesHealth(t *testing.T) {
	c, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c.Server().Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestShutdownCancelsActiveWorkflows(t *testing.T) {
	c, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wf, err := c.Engine.Create("task_processing", map[string]any{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	go func() { _ = c.Engine.Execute(context.Background(), wf) }()

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
