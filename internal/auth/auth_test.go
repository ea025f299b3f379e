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

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newKeyConfig(t *testing.T, name string, scopes []string) (Config, string) {
	t.Helper()
	plaintext, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash, err := HashKey(plaintext)
	if err != nil {
		t.Fatalf("hash key: %v", err)
	}
	cfg := Config{
		Enabled: true,
		APIKeys: []APIKey{{Name: name, Hash: hash, CreatedAt: time.Now(), Scopes: scopes}},
	}
	return cfg, plaintext
}

func TestWrapAcceptsValidAPIKeyViaXAPIKeyHeader(t *testing.T) {
	cfg, plaintext := newKeyConfig(t, "ci-bot", []string{"review-*"})
	m := NewMiddleware(cfg)

	var gotUser *User
	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-API-Key", plaintext)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUser == nil || gotUser.Name != "ci-bot" {
		t.Fatalf("expected ci-bot user, got %+v", gotUser)
	}
}

func TestWrapRejectsInvalidKey(t *testing.T) {
	cfg, _ := newKeyConfig(t, "ci-bot", nil)
	m := NewMiddleware(cfg)
	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-API-Key", "not-the-right-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWrapRejectsQueryParamKey(t *testing.T) {
	cfg, plaintext := newKeyConfig(t, "ci-bot", nil)
	m := NewMiddleware(cfg)
	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/status?api_key="+plaintext, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected query-param keys to be rejected, got %d", rec.Code)
	}
}

func TestWrapAcceptsValidJWTBearerToken(t *testing.T) {
	jwtCfg := JWTConfig{Secret: "test-secret", Issuer: "forge", TTL: time.Hour}
	cfg := Config{Enabled: true, JWT: &jwtCfg}
	m := NewMiddleware(cfg)

	token, err := IssueJWT(jwtCfg, "user-1", "user-1", []string{"admin"})
	if err != nil {
		t.Fatalf("issue jwt: %v", err)
	}

	var gotUser *User
	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUser == nil || gotUser.ID != "user-1" {
		t.Fatalf("expected user-1, got %+v", gotUser)
	}
}

func TestWrapExpiredAPIKeyRejected(t *testing.T) {
	plaintext, _ := GenerateKey()
	hash, _ := HashKey(plaintext)
	past := time.Now().Add(-time.Hour)
	cfg := Config{Enabled: true, APIKeys: []APIKey{{Name: "stale", Hash: hash, ExpiresAt: &past}}}
	m := NewMiddleware(cfg)
	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-API-Key", plaintext)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired key, got %d", rec.Code)
	}
}

func TestMatchesScopeWildcard(t *testing.T) {
	if !MatchesScope([]string{"review-*"}, "review-pr") {
		t.Error("expected wildcard scope to match")
	}
	if MatchesScope([]string{"review-*"}, "deploy-prod") {
		t.Error("expected wildcard scope not to match an unrelated endpoint")
	}
	if !MatchesScope(nil, "anything") {
		t.Error("expected empty scopes to grant full access")
	}
}
