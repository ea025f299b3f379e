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

// Package workspace provisions and tears down the isolated filesystem
// sandboxes validation runs execute in (spec.md §4.H): one directory
// tree per validation, a fixed subdirectory layout, and a metadata file
// recording how it was created. Grounded on the teacher's audit.go
// slog-JSON logging shape; the directory lifecycle itself is new, since
// the teacher's workspace package manages encrypted integration
// credentials rather than filesystem sandboxes.
package workspace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/pkg/ferrors"
)

const (
	dirPerm            = 0o755
	defaultMaxAge      = time.Hour
	defaultJanitorTick = time.Hour
)

// Manager provisions, tracks, and tears down validation workspaces under
// a single base directory.
type Manager struct {
	baseDir string
	clock   clock.Clock
	audit   *AuditLogger

	mu     sync.Mutex
	active map[string]*Workspace
}

// NewManager returns a Manager rooted at baseDir. audit may be nil to
// disable lifecycle audit logging.
func NewManager(baseDir string, clk clock.Clock, audit *AuditLogger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	return &Manager{
		baseDir: baseDir,
		clock:   clk,
		audit:   audit,
		active:  make(map[string]*Workspace),
	}
}

// Create provisions a new workspace for validationID: a directory
// containing src/, tests/, logs/, reports/, temp/, and a
// .workspace-metadata.json describing the request that created it
// (spec.md §4.H).
func (m *Manager) Create(ctx context.Context, validationID, requestRef string, config map[string]any) (*Workspace, error) {
	id, err := generateID(validationID, m.clock.Now())
	if err != nil {
		return nil, &ferrors.InternalError{Op: "workspace.generate_id", Cause: err}
	}

	ws := &Workspace{
		ID:           id,
		ValidationID: validationID,
		RequestRef:   requestRef,
		Path:         filepath.Join(m.baseDir, id),
		Config:       config,
		CreatedAt:    m.clock.Now(),
		Status:       StatusActive,
	}

	if err := os.MkdirAll(ws.Path, dirPerm); err != nil {
		return nil, &ferrors.InternalError{Op: "workspace.mkdir", Cause: err}
	}
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(ws.Path, sub), dirPerm); err != nil {
			return nil, &ferrors.InternalError{Op: "workspace.mkdir_subdir", Cause: err}
		}
	}

	meta := metadata{
		WorkspaceID:  ws.ID,
		ValidationID: ws.ValidationID,
		RequestRef:   ws.RequestRef,
		CreatedAt:    ws.CreatedAt,
		Config:       ws.Config,
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, &ferrors.InternalError{Op: "workspace.marshal_metadata", Cause: err}
	}
	if err := os.WriteFile(filepath.Join(ws.Path, metadataFileName), payload, 0o644); err != nil {
		return nil, &ferrors.InternalError{Op: "workspace.write_metadata", Cause: err}
	}

	m.mu.Lock()
	m.active[ws.ID] = ws
	m.mu.Unlock()

	m.audit.LogCreated(ws.ID, ws.ValidationID)
	return ws, nil
}

// Get returns the workspace registered under id, if still active.
func (m *Manager) Get(id string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.active[id]
	return ws, ok
}

// ActiveIDs returns the ids of every workspace still registered as
// active.
func (m *Manager) ActiveIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// Cleanup tears down ws: it never returns an error to the caller, since
// a failed cleanup must not fail the validation it belonged to
// (spec.md §4.H). Success removes the directory and deregisters ws from
// the active set; failure marks ws cleanup_failed, logs the failure,
// and still deregisters it so it isn't double-cleaned.
func (m *Manager) Cleanup(ctx context.Context, ws *Workspace) {
	m.mu.Lock()
	if active, ok := m.active[ws.ID]; ok {
		active.Status = StatusCleaning
	}
	m.mu.Unlock()

	err := os.RemoveAll(ws.Path)
	if err != nil {
		err = removeAllViaShell(ctx, ws.Path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		ws.Status = StatusCleanupFailed
		m.audit.LogCleanupFailed(ws.ID, ws.ValidationID, string(ferrors.CategoryOf(err)), err.Error())
		delete(m.active, ws.ID)
		return
	}
	ws.Status = StatusRemoved
	m.audit.LogCleaned(ws.ID, ws.ValidationID)
	delete(m.active, ws.ID)
}

// CleanupOld removes every active workspace older than maxAge (default
// 1h) and returns how many were removed. Intended for a periodic
// janitor loop.
func (m *Manager) CleanupOld(ctx context.Context, maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	cutoff := m.clock.Now().Add(-maxAge)

	m.mu.Lock()
	var stale []*Workspace
	for _, ws := range m.active {
		if ws.CreatedAt.Before(cutoff) {
			stale = append(stale, ws)
		}
	}
	m.mu.Unlock()

	for _, ws := range stale {
		m.Cleanup(ctx, ws)
	}
	return len(stale)
}

// Usage reports the total bytes consumed by every active workspace and
// whether that total exceeds quotaBytes. quotaBytes <= 0 disables the
// quota check.
func (m *Manager) Usage(quotaBytes int64) (totalBytes int64, quotaExceeded bool, err error) {
	m.mu.Lock()
	paths := make([]string, 0, len(m.active))
	for _, ws := range m.active {
		paths = append(paths, ws.Path)
	}
	m.mu.Unlock()

	for _, p := range paths {
		size, werr := dirSize(p)
		if werr != nil {
			return 0, false, &ferrors.InternalError{Op: "workspace.check_usage", Cause: werr}
		}
		totalBytes += size
	}
	return totalBytes, quotaBytes > 0 && totalBytes > quotaBytes, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func generateID(validationID string, ts time.Time) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("ws_%s_%d_%s", validationID, ts.UnixNano(), hex.EncodeToString(buf)), nil
}
