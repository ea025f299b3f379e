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

package shared

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"
)

func TestJSONResponseEnvelope(t *testing.T) {
	resp := JSONResponse{Version: "1.0", Command: "status", Success: true}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["@version"]; !ok {
		t.Error("@version field not present in JSON output")
	}
}

func TestEmitJSONError(t *testing.T) {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	errs := []JSONError{{Code: "E001", Message: "forged unreachable", Suggestion: "check FORGE_HOST"}}
	if err := EmitJSONError("status", errs); err != nil {
		t.Fatalf("EmitJSONError: %v", err)
	}

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)

	var response struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}
	if err := json.Unmarshal(buf.Bytes(), &response); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if response.Success {
		t.Error("success should be false for error response")
	}
	if len(response.Errors) != 1 || response.Errors[0].Code != "E001" {
		t.Errorf("unexpected errors: %+v", response.Errors)
	}
}

func TestEmitJSON(t *testing.T) {
	type testData struct {
		JSONResponse
		Result string `json:"result"`
	}

	data := testData{
		JSONResponse: JSONResponse{Version: "1.0", Command: "status", Success: true},
		Result:       "ok",
	}

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	if err := EmitJSON(data); err != nil {
		t.Fatalf("EmitJSON: %v", err)
	}

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)

	var decoded testData
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Result != "ok" {
		t.Errorf("result = %q, want %q", decoded.Result, "ok")
	}
}
