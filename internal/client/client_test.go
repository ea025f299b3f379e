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

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer server.Close()

	c, err := New(WithHTTPClient(server.Client()), WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	health, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", health.Status)
	}
}

func TestClientStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":           "ok",
			"uptime_seconds":   42,
			"active_workflows": 3,
		})
	}))
	defer server.Close()

	c, err := New(WithHTTPClient(server.Client()), WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.ActiveWorkflows != 3 {
		t.Errorf("expected 3 active workflows, got %d", status.ActiveWorkflows)
	}
}

func TestClientPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	c, err := New(WithHTTPClient(server.Client()), WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestClientAddsAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	c, err := New(WithHTTPClient(server.Client()), WithBaseURL(server.URL), WithAPIKey("sekret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Get(context.Background(), "/status/"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotAuth != "Bearer sekret" {
		t.Errorf("expected Bearer sekret, got %q", gotAuth)
	}
}

func TestClientPostTrigger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhooks/agent/trigger" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["kind"] != "validation" {
			t.Errorf("expected kind validation, got %v", body["kind"])
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"workflow_id": "wf-1", "status": "running"})
	}))
	defer server.Close()

	c, err := New(WithHTTPClient(server.Client()), WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := c.Post(context.Background(), "/webhooks/agent/trigger", map[string]any{"kind": "validation"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if result["workflow_id"] != "wf-1" {
		t.Errorf("expected workflow_id wf-1, got %v", result["workflow_id"])
	}
}

func TestParseForgeHost(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		wantTCP string
		wantErr bool
	}{
		{name: "empty defaults to localhost:8080", host: "", wantTCP: "localhost:8080"},
		{name: "tcp address", host: "tcp://localhost:9000", wantTCP: "localhost:9000"},
		{name: "https address", host: "https://forge.example.com:9000", wantTCP: "forge.example.com:9000"},
		{name: "invalid scheme", host: "ftp://localhost:9000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := ParseForgeHost(tt.host)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if transport.TCPAddr != tt.wantTCP {
				t.Errorf("expected TCP addr %s, got %s", tt.wantTCP, transport.TCPAddr)
			}
		})
	}
}

func TestIsDaemonUnreachable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "daemon unreachable error", err: &DaemonUnreachableError{Addr: "localhost:8080"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDaemonUnreachable(tt.err); got != tt.want {
				t.Errorf("IsDaemonUnreachable() = %v, want %v", got, tt.want)
			}
		})
	}
}
