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

// Package status implements "forgectl status": a health/load summary
// pulled from GET /status/, grounded on the teacher's
// management.NewRunsCommand's table-vs-JSON output split.
package status

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgecd/forge/internal/client"
	"github.com/forgecd/forge/internal/commands/shared"
)

// NewCommand creates the status command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show forged's health and load",
		Long: `Fetch GET /status/ from the configured forged daemon and print
its uptime and active workflow count.`,
		RunE: runStatus,
	}
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := shared.NewClient()
	if err != nil {
		return shared.NewExitError(shared.ExitGeneral, "build client", err)
	}

	ctx := context.Background()
	status, err := c.Status(ctx)
	if err != nil {
		if client.IsDaemonUnreachable(err) {
			return shared.NewUnreachableError("forged unreachable", err)
		}
		return shared.NewExitError(shared.ExitGeneral, "fetch status", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(struct {
			shared.JSONResponse
			*client.StatusResponse
		}{
			JSONResponse:   shared.JSONResponse{Version: "1.0", Command: "status", Success: true},
			StatusResponse: status,
		})
	}

	fmt.Printf("%s  %s\n", shared.RenderLabel("status:"), status.Status)
	fmt.Printf("%s  %ds\n", shared.RenderLabel("uptime:"), status.UptimeSeconds)
	fmt.Printf("%s  %d\n", shared.RenderLabel("active workflows:"), status.ActiveWorkflows)
	return nil
}
