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

package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/forgecd/forge/pkg/ferrors"
)

func sign(secret, signingString string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingString))
	return hex.EncodeToString(mac.Sum(nil))
}

// TestSourceHostAccept is spec.md scenario S1.
func TestSourceHostAccept(t *testing.T) {
	body := []byte(`{"a":1}`)
	v, err := New(ProfileSourceHost, "s", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h := sign("s", string(body))
	err = v.Verify(Request{Body: body, Signature: "sha256=" + h})
	if err != nil {
		t.Fatalf("expected valid signature to verify, got: %v", err)
	}
}

// TestSourceHostReject is spec.md scenario S2.
func TestSourceHostReject(t *testing.T) {
	body := []byte(`{"a":1}`)
	v, _ := New(ProfileSourceHost, "s", 0)
	err := v.Verify(Request{Body: body, Signature: "sha256=deadbeef"})
	if err == nil {
		t.Fatal("expected signature mismatch to be rejected")
	}
	if ferrors.CategoryOf(err) != ferrors.CategorySignatureInvalid {
		t.Errorf("expected SignatureInvalid, got %v", ferrors.CategoryOf(err))
	}
}

func TestSourceHostBitFlip(t *testing.T) {
	body := []byte(`{"a":1}`)
	v, _ := New(ProfileSourceHost, "s", 0)
	h := sign("s", string(body))

	flippedBody := []byte(`{"a":2}`)
	if err := v.Verify(Request{Body: flippedBody, Signature: "sha256=" + h}); err == nil {
		t.Error("expected flipped body to invalidate signature")
	}

	flippedSig := "sha256=" + h[:len(h)-1] + "0"
	if h[len(h)-1] == '0' {
		flippedSig = "sha256=" + h[:len(h)-1] + "1"
	}
	if err := v.Verify(Request{Body: body, Signature: flippedSig}); err == nil {
		t.Error("expected flipped signature to be rejected")
	}
}

func TestMissingSignature(t *testing.T) {
	v, _ := New(ProfileSourceHost, "s", 0)
	err := v.Verify(Request{Body: []byte("x")})
	if ferrors.CategoryOf(err) != ferrors.CategorySignatureMissing {
		t.Errorf("expected SignatureMissing, got %v", ferrors.CategoryOf(err))
	}
}

func TestMissingSecretIsConfigError(t *testing.T) {
	_, err := New(ProfileIssueTracker, "", 5*time.Minute)
	if ferrors.CategoryOf(err) != ferrors.CategoryConfiguration {
		t.Errorf("expected ConfigurationError, got %v", ferrors.CategoryOf(err))
	}
}

func TestIssueTrackerAcceptWithTimestamp(t *testing.T) {
	body := []byte(`{"issue":1}`)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	v, _ := New(ProfileIssueTracker, "s", 5*time.Minute)
	h := sign("s", string(body)+"."+ts)

	err := v.Verify(Request{Body: body, Signature: h, Timestamp: ts})
	if err != nil {
		t.Fatalf("expected valid issue-tracker signature, got: %v", err)
	}
}

// TestIssueTrackerReplayReject is spec.md scenario S3.
func TestIssueTrackerReplayReject(t *testing.T) {
	body := []byte(`{"issue":1}`)
	staleTime := time.Now().Add(-6 * time.Minute)
	ts := strconv.FormatInt(staleTime.UnixMilli(), 10)
	v, _ := New(ProfileIssueTracker, "s", 5*time.Minute)
	h := sign("s", string(body)+"."+ts)

	err := v.Verify(Request{Body: body, Signature: h, Timestamp: ts})
	if ferrors.CategoryOf(err) != ferrors.CategoryTimestampExpired {
		t.Errorf("expected TimestampTooOld, got %v (%v)", ferrors.CategoryOf(err), err)
	}
}

func TestAgentWireFormat(t *testing.T) {
	body := []byte(`{"agent":"a1"}`)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	v, _ := New(ProfileAgent, "s", 10*time.Minute)
	h := sign("s", string(body)+"."+ts)

	err := v.Verify(Request{Body: body, Signature: "agent-" + h, Timestamp: ts})
	if err != nil {
		t.Fatalf("expected valid agent signature, got: %v", err)
	}

	err = v.Verify(Request{Body: body, Signature: h, Timestamp: ts})
	if err == nil {
		t.Error("expected signature missing the agent- prefix to be rejected")
	}
}

func TestConstantTimeEqualKey(t *testing.T) {
	if ConstantTimeEqualKey("abc", "") {
		t.Error("expected empty configured key to never match")
	}
	if !ConstantTimeEqualKey("abc", "abc") {
		t.Error("expected equal keys to match")
	}
	if ConstantTimeEqualKey("abc", "abd") {
		t.Error("expected differing keys to not match")
	}
}
