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

// Package auth authenticates ingress requests against either a
// bcrypt-hashed API key or a signed JWT, both carrying a set of scopes
// (spec.md §4.B). Grounded on teacher's internal/daemon/auth (the
// dual-path Wrap, the Bearer/X-API-Key extraction, constant-time
// comparison, and wildcard scope matching), with API keys hashed at
// rest via golang.org/x/crypto/bcrypt instead of the teacher's
// plaintext-in-memory keys.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const userContextKey contextKey = "user"

// User is the identity attached to an authenticated request.
type User struct {
	ID     string
	Name   string
	Scopes []string
}

// UserFromContext extracts the authenticated user from ctx.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey).(*User)
	return user, ok
}

// ContextWithUser attaches user to ctx (used by tests and by callers
// that have already authenticated out of band).
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// APIKey is a registered credential. Hash holds the bcrypt digest of the
// key, never the key itself.
type APIKey struct {
	Name      string     `json:"name"`
	Hash      string     `json:"hash"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Scopes    []string   `json:"scopes,omitempty"`
}

// Config configures a Middleware.
type Config struct {
	Enabled bool
	APIKeys []APIKey
	JWT     *JWTConfig
}

// Middleware authenticates requests via Bearer JWT or X-API-Key/Bearer
// API key, attaching the resolved User to the request context.
type Middleware struct {
	mu     sync.RWMutex
	cfg    Config
	byName map[string]*APIKey
}

// NewMiddleware builds a Middleware from cfg.
func NewMiddleware(cfg Config) *Middleware {
	m := &Middleware{cfg: cfg, byName: make(map[string]*APIKey)}
	for i := range cfg.APIKeys {
		k := &cfg.APIKeys[i]
		m.byName[k.Name] = k
	}
	return m
}

// Wrap authenticates the request before delegating to next. Unlike the
// teacher, rate limiting is not embedded here: spec.md §4.B composes
// signature, rate-limit, and auth as independent middleware stages, so
// internal/ratelimit is wired separately in internal/ingress.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if r.URL.Query().Get("api_key") != "" {
			m.unauthorized(w, "API keys in query parameters are not supported")
			return
		}

		token := extractToken(r)
		if token == "" {
			m.unauthorized(w, "authentication required")
			return
		}

		var user *User
		if m.cfg.JWT != nil && strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			if claims, err := ValidateJWT(token, *m.cfg.JWT); err == nil {
				user = &User{ID: claims.UserID, Name: claims.Subject, Scopes: claims.Scopes}
			}
		}

		if user == nil {
			key, ok := m.validateKey(token)
			if !ok {
				m.unauthorized(w, "invalid credentials")
				return
			}
			if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
				m.unauthorized(w, "API key expired")
				return
			}
			user = &User{ID: key.Name, Name: key.Name, Scopes: key.Scopes}
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// validateKey checks candidate against every registered key's bcrypt
// hash. Unlike a plaintext map lookup, this can't short-circuit on a
// missing entry via a fast hash-table miss alone staying constant-time
// per key — it still compares against every key so the total work done
// doesn't leak which key (if any) the candidate is.
func (m *Middleware) validateKey(candidate string) (*APIKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched *APIKey
	for _, key := range m.cfg.APIKeys {
		if bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(candidate)) == nil {
			k := key
			matched = &k
		}
	}
	return matched, matched != nil
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// AddKey registers a new key, replacing any existing key with the same
// name.
func (m *Middleware) AddKey(key APIKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, k := range m.cfg.APIKeys {
		if k.Name == key.Name {
			m.cfg.APIKeys = append(m.cfg.APIKeys[:i], m.cfg.APIKeys[i+1:]...)
			break
		}
	}
	m.cfg.APIKeys = append(m.cfg.APIKeys, key)
	m.byName[key.Name] = &m.cfg.APIKeys[len(m.cfg.APIKeys)-1]
}

// RemoveKey removes the key registered under name.
func (m *Middleware) RemoveKey(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[name]; !ok {
		return false
	}
	delete(m.byName, name)
	for i, k := range m.cfg.APIKeys {
		if k.Name == name {
			m.cfg.APIKeys = append(m.cfg.APIKeys[:i], m.cfg.APIKeys[i+1:]...)
			return true
		}
	}
	return false
}

// GenerateKey returns a new random API key in plaintext. Callers must
// hash it with HashKey before storing it in a Config.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "frg_" + hex.EncodeToString(buf), nil
}

// HashKey bcrypt-hashes a plaintext key for storage at rest.
func HashKey(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}
