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

// Package trigger implements "forgectl trigger", which manually starts a
// workflow via POST /webhooks/agent/trigger.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgecd/forge/internal/client"
	"github.com/forgecd/forge/internal/commands/shared"
)

// NewCommand creates the trigger command.
func NewCommand() *cobra.Command {
	var contextJSON string

	cmd := &cobra.Command{
		Use:   "trigger <kind>",
		Short: "Manually start a workflow",
		Long: `Manually start a workflow of the given kind (task_processing,
pr_creation, or validation) via POST /webhooks/agent/trigger. Requires an
API key with the agent.trigger scope.

Pass --context as a JSON object to seed the workflow's initial context,
e.g. --context '{"repo":"forgecd/forge","ref":"refs/heads/main"}'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(args[0], contextJSON)
		},
	}
	cmd.Flags().StringVar(&contextJSON, "context", "{}", "JSON object to seed the workflow's context")
	return cmd
}

func runTrigger(kind, contextJSON string) error {
	var triggerContext map[string]any
	if err := json.Unmarshal([]byte(contextJSON), &triggerContext); err != nil {
		return shared.NewExitError(shared.ExitUsage, "invalid --context JSON", err)
	}

	c, err := shared.NewClient()
	if err != nil {
		return shared.NewExitError(shared.ExitGeneral, "build client", err)
	}

	body := map[string]any{
		"kind":    kind,
		"context": triggerContext,
	}

	ctx := context.Background()
	result, err := c.Post(ctx, "/webhooks/agent/trigger", body)
	if err != nil {
		if client.IsDaemonUnreachable(err) {
			return shared.NewUnreachableError("forged unreachable", err)
		}
		return shared.NewExitError(shared.ExitGeneral, "trigger workflow", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(struct {
			shared.JSONResponse
			Result map[string]any `json:"result"`
		}{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "trigger", Success: true},
			Result:       result,
		})
	}

	fmt.Printf("%s  workflow %v (%v) is %v\n",
		shared.RenderOK("triggered"), result["workflow_id"], result["kind"], result["status"])
	return nil
}
