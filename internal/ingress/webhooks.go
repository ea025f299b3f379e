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
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/forgecd/forge/internal/auth"
	"github.com/forgecd/forge/internal/eventstore"
	"github.com/forgecd/forge/pkg/ferrors"
)

// inboundPayload is the minimal envelope every webhook source sends: an
// event type header plus an arbitrary JSON payload. source-host and
// agent both carry the type in a header (X-Event); issue-tracker carries
// it in the body (spec.md §3's Event.Type is source-defined).
type inboundPayload struct {
	Type string `json:"type"`
}

// handleWebhookIngest stores the event and hands it to the processor
// asynchronously, returning 202 as soon as it is durably received
// (spec.md S1: event persisted with status in {received, processing,
// processed} within 1s — not necessarily processed by the time the
// response is written).
func (s *Server) handleWebhookIngest(source eventstore.Source) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, &ferrors.InternalError{Op: "read webhook body", Cause: err})
			return
		}

		eventType := r.Header.Get("X-Event")
		if eventType == "" {
			var p inboundPayload
			_ = json.Unmarshal(body, &p)
			eventType = p.Type
		}
		if eventType == "" {
			eventType = "unknown"
		}

		event := &eventstore.Event{
			Source:  source,
			Type:    eventType,
			Payload: body,
			Metadata: map[string]string{
				"delivery_id": r.Header.Get("X-Delivery"),
			},
		}

		id, err := s.deps.Store.Put(r.Context(), event)
		if err != nil {
			writeError(w, err)
			return
		}
		event.ID = id

		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordEventIngested(r.Context(), string(source), eventType)
		}

		if s.deps.Processor != nil {
			go func() {
				ctx := context.Background()
				_ = s.deps.Processor.Process(ctx, event)
				s.recordProcessed(ctx, source, id)
			}()
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"event_id": id,
			"status":   string(eventstore.StatusReceived),
		})
	}
}

// agentStatusRequest is the payload /webhooks/agent/status accepts: an
// out-of-band status update for an agent-driven event or validation.
type agentStatusRequest struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	if !authorizedFor(r, "agent.status") {
		writeError(w, &ferrors.UnauthorizedError{Reason: "missing agent.status scope"})
		return
	}

	var req agentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &ferrors.ValidationInputError{Field: "body", Message: "invalid JSON body"})
		return
	}
	if req.EventID == "" {
		writeError(w, &ferrors.ValidationInputError{Field: "event_id", Message: "event_id is required"})
		return
	}

	status := eventstore.Status(req.Status)
	if err := s.deps.Store.UpdateStatus(r.Context(), req.EventID, status, req.Message, nil); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"event_id": req.EventID, "status": req.Status})
}

// agentTriggerRequest manually starts a workflow of kind with wfCtx as
// its initial context (spec.md §6: "manually trigger workflow").
type agentTriggerRequest struct {
	Kind    string         `json:"kind"`
	Context map[string]any `json:"context"`
}

func (s *Server) handleAgentTrigger(w http.ResponseWriter, r *http.Request) {
	if !authorizedFor(r, "agent.trigger") {
		writeError(w, &ferrors.UnauthorizedError{Reason: "missing agent.trigger scope"})
		return
	}

	var req agentTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &ferrors.ValidationInputError{Field: "body", Message: "invalid JSON body"})
		return
	}
	if req.Kind == "" {
		writeError(w, &ferrors.ValidationInputError{Field: "kind", Message: "kind is required"})
		return
	}
	if s.deps.Engine == nil {
		writeError(w, &ferrors.InternalError{Op: "trigger workflow", Cause: errNoEngine})
		return
	}

	wf, err := s.deps.Engine.Create(req.Kind, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}

	go func() {
		_ = s.deps.Engine.Execute(context.Background(), wf)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": wf.ID, "kind": req.Kind, "status": "running"})
}

// handleSourceEvents serves GET /webhooks/{src}/events — a debug listing
// of recent events for one source, supporting limit/offset/event_type
// (spec.md §6). No auth is required: this is explicitly a debug route.
func (s *Server) handleSourceEvents(w http.ResponseWriter, r *http.Request) {
	source := eventstore.Source(r.PathValue("src"))
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	filters := eventstore.Filters{Source: source, Type: r.URL.Query().Get("event_type")}
	events, err := s.deps.Store.Query(r.Context(), limit+offset, filters)
	if err != nil {
		writeError(w, err)
		return
	}
	if offset > 0 {
		if offset >= len(events) {
			events = nil
		} else {
			events = events[offset:]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// handleRetry serves POST /webhooks/{src}/retry/{event_id}, starting a
// fresh processor attempt. An event already in a terminal status is not
// reprocessed: the store refuses its transition to processing.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if !authorizedFor(r, "events.retry") {
		writeError(w, &ferrors.UnauthorizedError{Reason: "missing events.retry scope"})
		return
	}

	eventID := r.PathValue("event_id")

	event, err := s.deps.Store.Get(r.Context(), eventID)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Processor == nil {
		writeError(w, &ferrors.InternalError{Op: "retry event", Cause: errNoProcessor})
		return
	}

	go func() {
		ctx := context.Background()
		_ = s.deps.Processor.Process(ctx, event)
		s.recordProcessed(ctx, event.Source, eventID)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": eventID, "status": "retrying"})
}

// recordProcessed re-reads the event's final status after a processor
// run and records it, since Process updates the store by id rather than
// mutating the caller's *eventstore.Event in place.
func (s *Server) recordProcessed(ctx context.Context, source eventstore.Source, id string) {
	if s.deps.Metrics == nil {
		return
	}
	event, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return
	}
	s.deps.Metrics.RecordEventProcessed(ctx, string(source), string(event.Status))
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

var (
	errNoEngine    = errMsg("workflow engine not configured")
	errNoProcessor = errMsg("processor not configured")
)

type errMsg string

func (e errMsg) Error() string { return string(e) }

// authorizedFor reports whether the user attached to r's context (by
// auth.Middleware) has a scope matching endpointName. A request with no
// attached user means auth is disabled, which authorizes everything.
func authorizedFor(r *http.Request, endpointName string) bool {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return true
	}
	return auth.MatchesScope(user.Scopes, endpointName)
}
