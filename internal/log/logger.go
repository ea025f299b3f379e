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

// Package log provides structured logging for Forge, built on log/slog.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Standard field keys, kept consistent across every component so logs
// can be joined on them downstream.
const (
	EventIDKey      = "event_id"
	WorkflowIDKey   = "workflow_id"
	StepKey         = "step"
	ValidationIDKey = "validation_id"
	WorkspaceIDKey  = "workspace_id"
	SourceKey       = "source"
	DurationKey     = "duration_ms"
)

// Config holds logging configuration.
type Config struct {
	Level     string
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv builds a Config from the environment.
//
//   - FORGE_DEBUG: true/1 enables debug level + source locations
//   - FORGE_LOG_LEVEL / LOG_LEVEL: debug, info, warn, error
//   - LOG_FORMAT: json, text (default json)
//   - LOG_SOURCE: 1 to add source file/line
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("FORGE_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	if debug == "" {
		if level := os.Getenv("FORGE_LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		} else if level := os.Getenv("LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		}
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	if os.Getenv("LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}

	return cfg
}

// New builds a structured logger from cfg.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(cfg.Output, opts)
	default:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent scopes logger with a component field, matching how each
// subsystem (ingress, processor, engine, executor...) tags its lines.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithEvent scopes logger with an event id.
func WithEvent(logger *slog.Logger, eventID string) *slog.Logger {
	return logger.With(EventIDKey, eventID)
}

// WithWorkflow scopes logger with a workflow id and kind.
func WithWorkflow(logger *slog.Logger, workflowID, kind string) *slog.Logger {
	return logger.With(WorkflowIDKey, workflowID, "kind", kind)
}

// WithValidation scopes logger with a validation id.
func WithValidation(logger *slog.Logger, validationID string) *slog.Logger {
	return logger.With(ValidationIDKey, validationID)
}

// SanitizeSecret fully redacts a secret value for logging.
func SanitizeSecret(string) string { return "[REDACTED]" }

// SanitizeAPIKey shows only the trailing 4 characters of a key.
func SanitizeAPIKey(key string) string {
	if len(key) <= 4 {
		return "[REDACTED]"
	}
	return "..." + key[len(key)-4:]
}

// Duration formats a duration as a millisecond attribute.
func Duration(d int64) slog.Attr { return slog.Int64(DurationKey, d) }
