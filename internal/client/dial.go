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
	"crypto/tls"
	"fmt"
	"os"
	"strings"
)

// Environment variable names read by FromEnvironment.
const (
	ForgeHostEnv   = "FORGE_HOST"
	ForgeAPIKeyEnv = "FORGE_API_KEY"
)

// ParseForgeHost parses a FORGE_HOST value into a transport. Supports:
//   - tcp://host:port
//   - https://host:port
//
// An empty host dials DefaultTransport's localhost:8080.
func ParseForgeHost(host string) (*Transport, error) {
	if host == "" {
		return DefaultTransport(), nil
	}

	switch {
	case strings.HasPrefix(host, "tcp://"):
		return NewTCPTransport(strings.TrimPrefix(host, "tcp://")), nil
	case strings.HasPrefix(host, "https://"):
		addr := strings.TrimPrefix(host, "https://")
		return NewTLSTransport(addr, &tls.Config{MinVersion: tls.VersionTLS12}), nil
	default:
		return nil, fmt.Errorf("invalid %s format: %s (must start with tcp:// or https://)", ForgeHostEnv, host)
	}
}

// FromEnvironment creates a client configured from FORGE_HOST/FORGE_API_KEY.
func FromEnvironment() (*Client, error) {
	transport, err := ParseForgeHost(os.Getenv(ForgeHostEnv))
	if err != nil {
		return nil, err
	}

	opts := []Option{WithTransport(transport)}
	if apiKey := os.Getenv(ForgeAPIKeyEnv); apiKey != "" {
		opts = append(opts, WithAPIKey(apiKey))
	}

	return New(opts...)
}

// DaemonUnreachableError indicates forged could not be reached.
type DaemonUnreachableError struct {
	Addr string
	Err  error
}

func (e *DaemonUnreachableError) Error() string {
	return fmt.Sprintf("forged is not reachable at %s", e.Addr)
}

func (e *DaemonUnreachableError) Unwrap() error {
	return e.Err
}

// Guidance returns user-facing guidance for starting the daemon.
func (e *DaemonUnreachableError) Guidance() string {
	return `forged is not reachable.

Start it with:
  forged                        # foreground
  forged -config /etc/forge/config.yaml &

Or point forgectl at a remote daemon:
  export FORGE_HOST=tcp://forge.internal:8080`
}

// IsDaemonUnreachable reports whether err indicates forged is unreachable.
func IsDaemonUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*DaemonUnreachableError); ok {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host")
}
