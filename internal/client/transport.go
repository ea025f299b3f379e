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
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Transport is an http.RoundTripper dialing a forged daemon over plain
// TCP or TLS. forged has no Unix-socket listener (spec.md §6 - it is a
// network service, not a local desktop-style helper process), so unlike
// the teacher's client this has no SocketPath field.
type Transport struct {
	TCPAddr   string
	TLSConfig *tls.Config
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.TLSConfig != nil && req.URL.Scheme == "http" {
		// A TLS transport upgrades the client's plain-http base URL and
		// addresses TCPAddr so the handshake verifies that host.
		req = req.Clone(req.Context())
		req.URL.Scheme = "https"
		req.URL.Host = t.TCPAddr
		req.Host = t.TCPAddr
	}
	return t.httpTransport().RoundTrip(req)
}

func (t *Transport) httpTransport() *http.Transport {
	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if t.TCPAddr != "" {
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 10 * time.Second}
			return d.DialContext(ctx, "tcp", t.TCPAddr)
		}
		if t.TLSConfig != nil {
			transport.TLSClientConfig = t.TLSConfig
		}
	}

	return transport
}

// DefaultTransport dials localhost:8080, forged's config.Default address.
func DefaultTransport() *Transport {
	return &Transport{TCPAddr: "localhost:8080"}
}

// NewTCPTransport creates a transport for a plain TCP connection.
func NewTCPTransport(addr string) *Transport {
	return &Transport{TCPAddr: addr}
}

// NewTLSTransport creates a transport for a TLS/HTTPS connection.
func NewTLSTransport(addr string, tlsConfig *tls.Config) *Transport {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &Transport{TCPAddr: addr, TLSConfig: tlsConfig}
}
