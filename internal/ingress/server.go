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

// Package ingress is Forge's HTTP surface (spec.md §6): webhook intake,
// operator status/metrics endpoints, and agent control routes. Grounded
// on the teacher's internal/daemon/api.Router (ServeMux + ordered
// middleware chain built innermost-first) and internal/daemon/auth's
// Wrap pattern, with the signature/rate-limit/auth stages composed as
// independent middlewares per route rather than one monolithic Wrap.
package ingress

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/forgecd/forge/internal/auth"
	"github.com/forgecd/forge/internal/clock"
	"github.com/forgecd/forge/internal/config"
	"github.com/forgecd/forge/internal/eventbus"
	"github.com/forgecd/forge/internal/eventstore"
	"github.com/forgecd/forge/internal/log"
	"github.com/forgecd/forge/internal/metrics"
	"github.com/forgecd/forge/internal/processor"
	"github.com/forgecd/forge/internal/ratelimit"
	"github.com/forgecd/forge/internal/signature"
	"github.com/forgecd/forge/internal/workflow/engine"
)

// Verifiers maps each webhook source to the signature.Verifier that
// guards it.
type Verifiers map[eventstore.Source]*signature.Verifier

// Dependencies are the subsystems Server wires into HTTP routes. None of
// them are owned by Server — they are constructed once by internal/core
// and passed in, per spec.md §9's "explicit construction of a root Core"
// design note.
type Dependencies struct {
	Store       eventstore.Store
	Processor   *processor.Processor
	Bus         *eventbus.Bus
	Engine      *engine.Engine
	Verifiers   Verifiers
	RateLimiter *ratelimit.Limiter
	Auth        *auth.Middleware
	Config      *config.Config
	Clock       clock.Clock
	Logger      *slog.Logger
	Metrics     *metrics.Collector
	StartedAt   time.Time
}

// Server builds and serves Forge's HTTP API.
type Server struct {
	deps Dependencies
}

// New builds a Server from deps, applying defaults for any zero-valued
// optional fields.
func New(deps Dependencies) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = log.New(log.FromEnv())
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = deps.Clock.Now()
	}
	return &Server{deps: deps}
}

// Handler returns the fully wired HTTP handler: the route table from
// spec.md §6 under an outer request-logging middleware, matching how the
// teacher's Router.ServeHTTP layers logging outermost so it reports each
// request's final outcome.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status/", s.handleStatus)
	mux.HandleFunc("GET /status/metrics", s.handleStatusMetrics)
	mux.HandleFunc("GET /status/events", s.handleStatusEvents)
	mux.HandleFunc("GET /status/config", s.handleStatusConfig)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	mux.Handle("POST /webhooks/source_host", s.webhookIngestHandler(eventstore.SourceSourceHost))
	mux.Handle("POST /webhooks/issue_tracker", s.webhookIngestHandler(eventstore.SourceIssueTracker))
	mux.Handle("POST /webhooks/agent", s.webhookIngestHandler(eventstore.SourceAgent))

	mux.Handle("POST /webhooks/agent/status", s.requireAuth(http.HandlerFunc(s.handleAgentStatus)))
	mux.Handle("POST /webhooks/agent/trigger", s.requireAuth(http.HandlerFunc(s.handleAgentTrigger)))
	mux.HandleFunc("GET /webhooks/{src}/events", s.handleSourceEvents)
	mux.Handle("POST /webhooks/{src}/retry/{event_id}", s.requireAuth(http.HandlerFunc(s.handleRetry)))

	return log.HTTPMiddleware(s.deps.Logger)(mux)
}

// requireAuth wraps next with the operator auth middleware (spec.md
// §4.B's "webhook auth" column: API key or JWT, admin scope for admin
// routes).
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.deps.Auth == nil {
		return next
	}
	return s.deps.Auth.Wrap(next)
}

// webhookIngestHandler composes the signature → rate-limit → store
// chain for one webhook source, per spec.md §4.B's stage ordering. A
// valid signature is itself the auth for these three routes (spec.md §6:
// "Bypass of auth is allowed only when a valid per-source signature
// header is present"), so no auth.Middleware stage runs here.
func (s *Server) webhookIngestHandler(source eventstore.Source) http.Handler {
	handler := http.HandlerFunc(s.handleWebhookIngest(source))

	var mw []func(http.Handler) http.Handler
	mw = append(mw, limitBody)
	if verifier, ok := s.deps.Verifiers[source]; ok && verifier != nil {
		mw = append(mw, verifySignature(profileForSource(source), verifier))
	}
	if s.deps.RateLimiter != nil {
		if s.deps.Metrics != nil {
			mw = append(mw, recordRateLimitRejections(s.deps.Metrics, string(ratelimit.TierWebhook)))
		}
		mw = append(mw, s.deps.RateLimiter.Middleware(webhookClientID))
	}
	return chain(handler, mw...)
}

func profileForSource(source eventstore.Source) signature.Profile {
	switch source {
	case eventstore.SourceSourceHost:
		return signature.ProfileSourceHost
	case eventstore.SourceIssueTracker:
		return signature.ProfileIssueTracker
	default:
		return signature.ProfileAgent
	}
}

// webhookClientID derives the rate-limit key for an inbound webhook
// request: the delivery source's remote address, tiered as "webhook"
// (spec.md §4.B).
func webhookClientID(r *http.Request) (string, ratelimit.Tier) {
	return r.RemoteAddr, ratelimit.TierWebhook
}
