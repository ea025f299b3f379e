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
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/forgecd/forge/internal/signature"
	"github.com/forgecd/forge/pkg/ferrors"
)

// maxBodyBytes is the 10 MiB request body limit spec.md §6 specifies.
const maxBodyBytes = 10 << 20

// limitBody caps the request body at maxBodyBytes (grounded on the
// teacher pack's http.MaxBytesReader usage), then buffers the body back
// onto the request so downstream signature verification and JSON
// decoding can both read it in full.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, &ferrors.ValidationInputError{Field: "body", Message: "request body exceeds 10 MiB limit or could not be read"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// headersFor extracts the signature.Request fields for profile from r's
// headers, per spec.md §6's per-source header table.
func headersFor(profile signature.Profile, body []byte, r *http.Request) signature.Request {
	switch profile {
	case signature.ProfileSourceHost:
		return signature.Request{Body: body, Signature: r.Header.Get("X-Signature-256")}
	case signature.ProfileIssueTracker:
		return signature.Request{Body: body, Signature: r.Header.Get("Signature"), Timestamp: r.Header.Get("Timestamp")}
	case signature.ProfileAgent:
		return signature.Request{Body: body, Signature: r.Header.Get("X-Signature"), Timestamp: r.Header.Get("X-Timestamp")}
	default:
		return signature.Request{Body: body}
	}
}

// verifySignature wraps next with a signature check for profile using
// verifier. The raw body must already be buffered onto r (see
// limitBody) since verification consumes it before any JSON decoding.
func verifySignature(profile signature.Profile, verifier *signature.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, &ferrors.InternalError{Op: "read request body", Cause: err})
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := verifier.Verify(headersFor(profile, body, r)); err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middlewares outermost-first, so chain(h, a, b) runs
// a(b(h)).
func chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// statusCapture records the status code next writes, without altering the
// response - used only to feed the metrics collector, never to change
// behavior.
type statusCapture struct {
	http.ResponseWriter
	status int
}

func (s *statusCapture) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// recordRateLimitRejections wraps next (the rate-limit middleware plus
// handler) and records a metric whenever the response is a 429, keeping
// internal/ratelimit itself free of any metrics import.
func recordRateLimitRejections(collector rejectionRecorder, tier string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if collector == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := &statusCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sc, r)
			if sc.status == http.StatusTooManyRequests {
				collector.RecordRateLimitRejection(r.Context(), tier)
			}
		})
	}
}

// rejectionRecorder is the subset of metrics.Collector this package
// depends on, kept narrow so tests can stub it without importing the
// OTel-backed collector.
type rejectionRecorder interface {
	RecordRateLimitRejection(ctx context.Context, tier string)
}
