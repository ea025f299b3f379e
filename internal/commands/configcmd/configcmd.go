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

// Package configcmd implements "forgectl config", a read-only view of
// forged's running configuration fetched from GET /status/config. Named
// configcmd, not config, so it doesn't collide with internal/config,
// forged's own configuration package.
package configcmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgecd/forge/internal/client"
	"github.com/forgecd/forge/internal/commands/shared"
)

// NewCommand creates the config command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show forged's running configuration",
		Long: `Fetch GET /status/config from the configured forged daemon. Secrets
(webhook HMAC keys, JWT secret, API keys) are never included in this
response.`,
		RunE: runConfig,
	}
}

func runConfig(cmd *cobra.Command, args []string) error {
	c, err := shared.NewClient()
	if err != nil {
		return shared.NewExitError(shared.ExitGeneral, "build client", err)
	}

	ctx := context.Background()
	result, err := c.Get(ctx, "/status/config")
	if err != nil {
		if client.IsDaemonUnreachable(err) {
			return shared.NewUnreachableError("forged unreachable", err)
		}
		return shared.NewExitError(shared.ExitGeneral, "fetch config", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(struct {
			shared.JSONResponse
			Config map[string]any `json:"config"`
		}{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "config", Success: true},
			Config:       result,
		})
	}

	printField(result, "max_concurrent_workflows")
	printField(result, "max_concurrent_validations")
	printField(result, "validation_timeout_ms")
	printField(result, "git_timeout_ms")
	printField(result, "workspace_max_age_ms")
	printField(result, "workspace_max_bytes")
	printField(result, "observability_enabled")

	if rateLimit, ok := result["rate_limit"].(map[string]any); ok {
		fmt.Println(shared.RenderLabel("rate_limit:"))
		for _, tier := range []string{"default_tier", "webhook_tier", "authenticated_tier", "admin_tier"} {
			if v, ok := rateLimit[tier]; ok {
				fmt.Printf("  %s  %v\n", shared.RenderLabel(tier+":"), v)
			}
		}
	}
	return nil
}

func printField(config map[string]any, key string) {
	if v, ok := config[key]; ok {
		fmt.Printf("%s  %v\n", shared.RenderLabel(key+":"), v)
	}
}
