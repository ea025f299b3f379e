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
	"encoding/json"
	"log/slog"
	"time"
)

// AuditEvent represents a workspace lifecycle operation that should be
// logged: creation, cleanup, or a cleanup failure.
type AuditEvent struct {
	Timestamp     time.Time      `json:"timestamp"`
	EventType     AuditEventType `json:"event_type"`
	WorkspaceID   string         `json:"workspace_id"`
	ValidationID  string         `json:"validation_id,omitempty"`
	Success       bool           `json:"success"`
	ErrorCategory string         `json:"error_category,omitempty"`
	Detail        string         `json:"detail,omitempty"`
}

// AuditEventType identifies the kind of audit event.
type AuditEventType string

const (
	EventWorkspaceCreated       AuditEventType = "workspace.created"
	EventWorkspaceCleaned       AuditEventType = "workspace.cleaned"
	EventWorkspaceCleanupFailed AuditEventType = "workspace.cleanup_failed"
)

// AuditLogger handles structured logging of workspace lifecycle events.
// Events are logged as JSON so they can be shipped alongside other
// operational logs.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Log writes an audit event to the structured log. Events are logged at
// INFO level for successful operations and ERROR level for failures.
func (a *AuditLogger) Log(event AuditEvent) {
	if a == nil || a.logger == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		a.logger.Error("failed to marshal audit event", "error", err, "event_type", event.EventType)
		return
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelError
	}
	a.logger.Log(nil, level, "audit event",
		"event_type", event.EventType,
		"workspace_id", event.WorkspaceID,
		"validation_id", event.ValidationID,
		"success", event.Success,
		"audit_json", string(eventJSON),
	)
}

// LogCreated logs a successful workspace creation.
func (a *AuditLogger) LogCreated(workspaceID, validationID string) {
	a.Log(AuditEvent{EventType: EventWorkspaceCreated, WorkspaceID: workspaceID, ValidationID: validationID, Success: true})
}

// LogCleaned logs a successful workspace cleanup.
func (a *AuditLogger) LogCleaned(workspaceID, validationID string) {
	a.Log(AuditEvent{EventType: EventWorkspaceCleaned, WorkspaceID: workspaceID, ValidationID: validationID, Success: true})
}

// LogCleanupFailed logs a failed workspace cleanup. Cleanup failures are
// never propagated to the caller (spec.md §4.H); the audit log is the
// only record.
func (a *AuditLogger) LogCleanupFailed(workspaceID, validationID, errorCategory, detail string) {
	a.Log(AuditEvent{
		EventType:     EventWorkspaceCleanupFailed,
		WorkspaceID:   workspaceID,
		ValidationID:  validationID,
		Success:       false,
		ErrorCategory: errorCategory,
		Detail:        detail,
	})
}
