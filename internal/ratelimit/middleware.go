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

package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/forgecd/forge/pkg/ferrors"
)

// ClientIDFunc derives a client_id from the request: auth credential hash,
// else user id, else remote IP (spec.md §4.B).
type ClientIDFunc func(r *http.Request) (id string, tier Tier)

// Middleware wraps next with the tier+burst check, writing the
// RateLimit-* headers on every decision and a 429 with Retry-After on
// rejection.
func (l *Limiter) Middleware(identify ClientIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, tier := identify(r)
			decision, err := l.Check(tier, clientID)

			w.Header().Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))
			w.Header().Set("RateLimit-Window", decision.Window.String())

			if err != nil {
				var rle *ferrors.RateLimitError
				retryAfterSeconds := int64(1)
				if isRateLimitError(err, &rle) {
					retryAfterSeconds = (rle.RetryAfterMS + 999) / 1000
					if retryAfterSeconds < 1 {
						retryAfterSeconds = 1
					}
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds, 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": string(ferrors.CategoryOf(err)),
					"message": err.Error(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isRateLimitError(err error, out **ferrors.RateLimitError) bool {
	rle, ok := err.(*ferrors.RateLimitError)
	if ok {
		*out = rle
	}
	return ok
}
