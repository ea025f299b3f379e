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

// Package config loads and validates Forge's daemon configuration from a
// YAML file overlaid with environment variables, the same two-layer model
// the teacher's config package uses for Conductor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgecd/forge/pkg/ferrors"
)

// Config is the complete Forge daemon configuration.
type Config struct {
	Version int `yaml:"version,omitempty"`

	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Signature  SignatureConfig  `yaml:"signature"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Validation ValidationConfig `yaml:"validation"`
	Auth       AuthConfig       `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LogConfig configures structured logging (see internal/log).
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ServerConfig configures the HTTP ingress listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
	DrainTimeout    time.Duration `yaml:"drain_timeout,omitempty"`
}

// SignatureConfig holds the per-profile HMAC secrets from spec.md §4.A.
type SignatureConfig struct {
	SourceHostSecret   string        `yaml:"-"`
	IssueTrackerSecret string        `yaml:"-"`
	AgentSecret        string        `yaml:"-"`
	AgentInternalKey   string        `yaml:"-"`
	ReplayWindow       time.Duration `yaml:"replay_window,omitempty"`
}

// RateLimitConfig configures the sliding-window tier limiter and the
// burst guard (spec.md §4.B).
type RateLimitConfig struct {
	DefaultTier       TierLimit     `yaml:"default_tier"`
	WebhookTier       TierLimit     `yaml:"webhook_tier"`
	AuthenticatedTier TierLimit     `yaml:"authenticated_tier"`
	AdminTier         TierLimit     `yaml:"admin_tier"`
	BurstLimit        int           `yaml:"burst_limit,omitempty"`
	BurstWindow       time.Duration `yaml:"burst_window,omitempty"`
}

// TierLimit is a request budget over a window.
type TierLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// WorkflowConfig configures the workflow execution engine (spec.md §4.F).
type WorkflowConfig struct {
	MaxConcurrentWorkflows int           `yaml:"max_concurrent_workflows"`
	ArchiveAfter           time.Duration `yaml:"archive_after,omitempty"`
}

// WorkspaceConfig configures sandbox lifecycle management (spec.md §4.H).
type WorkspaceConfig struct {
	BaseDir         string        `yaml:"base_dir"`
	MaxAge          time.Duration `yaml:"max_age"`
	MaxBytes        int64         `yaml:"max_bytes"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ValidationConfig configures the validation executor (spec.md §4.I).
type ValidationConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
	GitTimeout    time.Duration `yaml:"git_timeout"`
	KillGrace     time.Duration `yaml:"kill_grace,omitempty"`
}

// AuthConfig configures operator-facing API key and JWT auth (spec.md §6).
type AuthConfig struct {
	APIKeys   []string `yaml:"-"`
	MasterKey string   `yaml:"-"`
	JWTSecret string   `yaml:"-"`
}

// ObservabilityConfig configures Prometheus metrics and OTel tracing.
type ObservabilityConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"service_name,omitempty"`
	ServiceVersion string `yaml:"service_version,omitempty"`
	MetricsAddr    string `yaml:"metrics_addr,omitempty"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
}

// Default returns a Config with the defaults spec.md §4 calls out.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
			DrainTimeout:    30 * time.Second,
		},
		Signature: SignatureConfig{
			ReplayWindow: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			DefaultTier:       TierLimit{Requests: 100, Window: 15 * time.Minute},
			WebhookTier:       TierLimit{Requests: 30, Window: time.Minute},
			AuthenticatedTier: TierLimit{Requests: 500, Window: 15 * time.Minute},
			AdminTier:         TierLimit{Requests: 1000, Window: 15 * time.Minute},
			BurstLimit:        5,
			BurstWindow:       10 * time.Second,
		},
		Workflow: WorkflowConfig{
			MaxConcurrentWorkflows: 100,
			ArchiveAfter:           60 * time.Second,
		},
		Workspace: WorkspaceConfig{
			BaseDir:         filepath.Join(defaultDataDir(), "workspaces"),
			MaxAge:          time.Hour,
			MaxBytes:        5 << 30, // 5 GiB
			CleanupInterval: time.Hour,
		},
		Validation: ValidationConfig{
			MaxConcurrent: 4,
			Timeout:       600 * time.Second,
			GitTimeout:    300 * time.Second,
			KillGrace:     5 * time.Second,
		},
		Observability: ObservabilityConfig{
			Enabled:        false,
			ServiceName:    "forge",
			ServiceVersion: "unknown",
			MetricsAddr:    ":9090",
		},
	}
}

// Load reads configPath (falling back to the default config.yaml location
// if empty) and overlays environment variables, then validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if defaultPath, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				configPath = defaultPath
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &ferrors.ConfigError{Key: "config_file", Reason: fmt.Sprintf("failed to load %s", configPath), Cause: err}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &ferrors.ConfigError{Key: "validation", Reason: err.Error()}
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.DrainTimeout == 0 {
		c.Server.DrainTimeout = d.Server.DrainTimeout
	}
	if c.Signature.ReplayWindow == 0 {
		c.Signature.ReplayWindow = d.Signature.ReplayWindow
	}
	if c.RateLimit.DefaultTier.Requests == 0 {
		c.RateLimit.DefaultTier = d.RateLimit.DefaultTier
	}
	if c.RateLimit.WebhookTier.Requests == 0 {
		c.RateLimit.WebhookTier = d.RateLimit.WebhookTier
	}
	if c.RateLimit.AuthenticatedTier.Requests == 0 {
		c.RateLimit.AuthenticatedTier = d.RateLimit.AuthenticatedTier
	}
	if c.RateLimit.AdminTier.Requests == 0 {
		c.RateLimit.AdminTier = d.RateLimit.AdminTier
	}
	if c.RateLimit.BurstLimit == 0 {
		c.RateLimit.BurstLimit = d.RateLimit.BurstLimit
	}
	if c.RateLimit.BurstWindow == 0 {
		c.RateLimit.BurstWindow = d.RateLimit.BurstWindow
	}
	if c.Workflow.MaxConcurrentWorkflows == 0 {
		c.Workflow.MaxConcurrentWorkflows = d.Workflow.MaxConcurrentWorkflows
	}
	if c.Workflow.ArchiveAfter == 0 {
		c.Workflow.ArchiveAfter = d.Workflow.ArchiveAfter
	}
	if c.Workspace.BaseDir == "" {
		c.Workspace.BaseDir = d.Workspace.BaseDir
	}
	if c.Workspace.MaxAge == 0 {
		c.Workspace.MaxAge = d.Workspace.MaxAge
	}
	if c.Workspace.MaxBytes == 0 {
		c.Workspace.MaxBytes = d.Workspace.MaxBytes
	}
	if c.Workspace.CleanupInterval == 0 {
		c.Workspace.CleanupInterval = d.Workspace.CleanupInterval
	}
	if c.Validation.MaxConcurrent == 0 {
		c.Validation.MaxConcurrent = d.Validation.MaxConcurrent
	}
	if c.Validation.Timeout == 0 {
		c.Validation.Timeout = d.Validation.Timeout
	}
	if c.Validation.GitTimeout == 0 {
		c.Validation.GitTimeout = d.Validation.GitTimeout
	}
	if c.Validation.KillGrace == 0 {
		c.Validation.KillGrace = d.Validation.KillGrace
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = d.Observability.ServiceName
	}
	if c.Observability.ServiceVersion == "" {
		c.Observability.ServiceVersion = d.Observability.ServiceVersion
	}
	if c.Observability.MetricsAddr == "" {
		c.Observability.MetricsAddr = d.Observability.MetricsAddr
	}
}

// loadFromEnv overlays the env vars spec.md §1/§9 names. Secrets are never
// read from YAML — they only ever come from the environment, matching the
// teacher's habit of keeping credentials out of on-disk config.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_SOURCE"); v != "" {
		c.Log.AddSource = truthy(v)
	}

	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	c.Signature.SourceHostSecret = os.Getenv("SOURCE_HOST_WEBHOOK_SECRET")
	c.Signature.IssueTrackerSecret = os.Getenv("ISSUE_TRACKER_WEBHOOK_SECRET")
	c.Signature.AgentSecret = os.Getenv("AGENT_WEBHOOK_SECRET")
	c.Signature.AgentInternalKey = os.Getenv("AGENT_INTERNAL_KEY")

	if v := os.Getenv("MAX_CONCURRENT_VALIDATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Validation.MaxConcurrent = n
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_WORKFLOWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workflow.MaxConcurrentWorkflows = n
		}
	}
	if v := os.Getenv("VALIDATION_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Validation.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("GIT_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Validation.GitTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("CLEANUP_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Workspace.CleanupInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("WORKSPACE_MAX_AGE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Workspace.MaxAge = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("WORKSPACE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Workspace.MaxBytes = n
		}
	}

	if v := os.Getenv("WEBHOOK_API_KEYS"); v != "" {
		c.Auth.APIKeys = splitNonEmpty(v, ',')
	}
	c.Auth.MasterKey = os.Getenv("WEBHOOK_MASTER_KEY")
	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
}

func truthy(v string) bool {
	v = strings.ToLower(v)
	return v == "1" || v == "true"
}

func splitNonEmpty(s string, sep rune) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == sep })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be in [1, 65535], got %d", c.Server.Port))
	}
	if c.Workflow.MaxConcurrentWorkflows <= 0 {
		errs = append(errs, "workflow.max_concurrent_workflows must be positive")
	}
	if c.Validation.MaxConcurrent <= 0 {
		errs = append(errs, "validation.max_concurrent must be positive")
	}
	if c.Validation.Timeout <= 0 {
		errs = append(errs, "validation.timeout must be positive")
	}
	if c.Workspace.MaxBytes <= 0 {
		errs = append(errs, "workspace.max_bytes must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
