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

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forgecd/forge/internal/clock"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	base := t.TempDir()
	return NewManager(base, clock.NewFake(time.Now()), NewAuditLogger(nil)), base
}

func TestCreateLaysOutSubdirsAndMetadata(t *testing.T) {
	m, _ := newTestManager(t)

	ws, err := m.Create(context.Background(), "val-1", "refs/pull/1", map[string]any{"timeout_ms": 600000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !strings.HasPrefix(ws.ID, "ws_val-1_") {
		t.Errorf("expected id to start with ws_val-1_, got %s", ws.ID)
	}
	parts := strings.Split(ws.ID, "_")
	if len(parts) != 4 {
		t.Fatalf("expected 4 underscore-separated parts, got %d (%s)", len(parts), ws.ID)
	}
	if len(parts[3]) != 16 {
		t.Errorf("expected a 16-hex-char (8 byte) random suffix, got %q", parts[3])
	}

	for _, sub := range subdirs {
		info, err := os.Stat(filepath.Join(ws.Path, sub))
		if err != nil {
			t.Fatalf("expected subdir %s: %v", sub, err)
		}
		if !info.IsDir() {
			t.Errorf("expected %s to be a directory", sub)
		}
	}

	raw, err := os.ReadFile(filepath.Join(ws.Path, metadataFileName))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.WorkspaceID != ws.ID || meta.ValidationID != "val-1" || meta.RequestRef != "refs/pull/1" {
		t.Errorf("unexpected metadata contents: %+v", meta)
	}

	if got, ok := m.Get(ws.ID); !ok || got.ID != ws.ID {
		t.Error("expected the workspace to be registered active")
	}
}

func TestCleanupRemovesDirectoryAndDeregisters(t *testing.T) {
	m, _ := newTestManager(t)
	ws, err := m.Create(context.Background(), "val-2", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	m.Cleanup(context.Background(), ws)

	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Errorf("expected workspace directory to be removed, stat err=%v", err)
	}
	if _, ok := m.Get(ws.ID); ok {
		t.Error("expected the workspace to be deregistered from active")
	}
	if ws.Status != StatusRemoved {
		t.Errorf("expected StatusRemoved, got %s", ws.Status)
	}
}

func TestCleanupOfMissingDirectoryNeverPanicsAndDeregisters(t *testing.T) {
	m, _ := newTestManager(t)
	ws, err := m.Create(context.Background(), "val-3", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Remove the workspace's parent directory out from under the
	// manager before asking it to clean up.
	if err := os.RemoveAll(filepath.Dir(ws.Path)); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Cleanup of an already-missing path succeeds trivially for
	// os.RemoveAll (it is not an error to remove a path that doesn't
	// exist), so this exercises the non-throwing contract rather than
	// forcing a failure: the call must never panic or return an error.
	m.Cleanup(context.Background(), ws)

	if _, ok := m.Get(ws.ID); ok {
		t.Error("expected the workspace to be deregistered even after an unusual cleanup path")
	}
}

func TestCleanupOldRemovesOnlyStaleWorkspaces(t *testing.T) {
	clk := clock.NewFake(time.Now())
	m := NewManager(t.TempDir(), clk, NewAuditLogger(nil))

	old, err := m.Create(context.Background(), "val-old", "", nil)
	if err != nil {
		t.Fatalf("create old: %v", err)
	}
	clk.Advance(2 * time.Hour)
	fresh, err := m.Create(context.Background(), "val-fresh", "", nil)
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	removed := m.CleanupOld(context.Background(), time.Hour)
	if removed != 1 {
		t.Fatalf("expected 1 stale workspace removed, got %d", removed)
	}
	if _, ok := m.Get(old.ID); ok {
		t.Error("expected the old workspace to be cleaned up")
	}
	if _, ok := m.Get(fresh.ID); !ok {
		t.Error("expected the fresh workspace to remain active")
	}
}

func TestUsageReportsQuotaExceeded(t *testing.T) {
	m, _ := newTestManager(t)
	ws, err := m.Create(context.Background(), "val-4", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := os.WriteFile(filepath.Join(ws.Path, "src", "big.bin"), make([]byte, 1024), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	total, exceeded, err := m.Usage(512)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if total < 1024 {
		t.Errorf("expected at least 1024 bytes counted, got %d", total)
	}
	if !exceeded {
		t.Error("expected quota to be reported exceeded")
	}

	if _, exceeded, err := m.Usage(0); err != nil || exceeded {
		t.Errorf("expected a non-positive quota to disable the check, got exceeded=%v err=%v", exceeded, err)
	}
}
