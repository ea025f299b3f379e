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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgecd/forge/pkg/ferrors"
)

// statusForCategory maps a ferrors.Category to the HTTP status spec.md §7
// assigns it.
func statusForCategory(cat ferrors.Category) int {
	switch cat {
	case ferrors.CategorySignatureMissing, ferrors.CategorySignatureInvalid,
		ferrors.CategoryTimestampExpired, ferrors.CategoryUnauthorized:
		return http.StatusUnauthorized
	case ferrors.CategoryConfiguration, ferrors.CategoryInternal:
		return http.StatusInternalServerError
	case ferrors.CategoryRateLimited:
		return http.StatusTooManyRequests
	case ferrors.CategoryOverloaded:
		return http.StatusServiceUnavailable
	case ferrors.CategoryNotFound:
		return http.StatusNotFound
	case ferrors.CategoryValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as the {"error": category, "message": ...} body
// spec.md §6/§7 specify, deriving the status code from its category.
func writeError(w http.ResponseWriter, err error) {
	cat := ferrors.CategoryOf(err)
	body := map[string]any{
		"error":   string(cat),
		"message": err.Error(),
	}

	var rle *ferrors.RateLimitError
	if errors.As(err, &rle) {
		body["retry_after_ms"] = rle.RetryAfterMS
	}

	writeJSON(w, statusForCategory(cat), body)
}

// writeJSON writes data as a JSON body with status, matching the
// teacher's httputil.WriteJSON shape.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
