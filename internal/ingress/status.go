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

package ingress

import (
	"net/http"
	"time"

	"github.com/forgecd/forge/internal/eventstore"
	"github.com/forgecd/forge/pkg/ferrors"
)

// handleHealth serves GET /health: a bare liveness check with no
// dependency on any subsystem.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus serves GET /status/: an overall health summary covering
// every wired subsystem's current load.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(s.deps.Clock.Now().Sub(s.deps.StartedAt).Seconds()),
	}
	if s.deps.Engine != nil {
		body["active_workflows"] = s.deps.Engine.ActiveCount()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleStatusMetrics serves GET /status/metrics?timeframe=24h:
// aggregated event counts over the requested window (spec.md §4.C).
func (s *Server) handleStatusMetrics(w http.ResponseWriter, r *http.Request) {
	timeframe, err := parseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		writeError(w, err)
		return
	}

	metrics, err := s.deps.Store.Metrics(r.Context(), timeframe)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// handleStatusEvents serves GET /status/events?limit=N: the most recent
// events across all sources, newest first.
func (s *Server) handleStatusEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	events, err := s.deps.Store.Query(r.Context(), limit, eventstore.Filters{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// handleStatusConfig serves GET /status/config: the non-secret feature
// flags and tunables an operator may want to confirm without reading the
// daemon's config file directly. Secrets (webhook HMAC keys, JWT
// secret, API keys) are never included.
func (s *Server) handleStatusConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config
	if cfg == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"max_concurrent_workflows":   cfg.Workflow.MaxConcurrentWorkflows,
		"max_concurrent_validations": cfg.Validation.MaxConcurrent,
		"validation_timeout_ms":      cfg.Validation.Timeout.Milliseconds(),
		"git_timeout_ms":             cfg.Validation.GitTimeout.Milliseconds(),
		"workspace_max_age_ms":       cfg.Workspace.MaxAge.Milliseconds(),
		"workspace_max_bytes":        cfg.Workspace.MaxBytes,
		"rate_limit": map[string]any{
			"default_tier":       cfg.RateLimit.DefaultTier,
			"webhook_tier":       cfg.RateLimit.WebhookTier,
			"authenticated_tier": cfg.RateLimit.AuthenticatedTier,
			"admin_tier":         cfg.RateLimit.AdminTier,
		},
		"observability_enabled": cfg.Observability.Enabled,
	})
}

func parseTimeframe(v string) (time.Duration, error) {
	if v == "" {
		return 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &ferrors.ValidationInputError{Field: "timeframe", Message: "timeframe must be a duration like \"24h\""}
	}
	return d, nil
}
