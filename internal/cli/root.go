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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/forgecd/forge/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for forgectl.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forgectl",
		Short: "forgectl - operator CLI for a forged daemon",
		Long: `forgectl talks to a running forged daemon's ingress API: check
its health, inspect webhook events, retry a failed one, or manually
trigger a workflow.

Run 'forgectl status' to check daemon health.
Set FORGE_HOST / FORGE_API_KEY, or --server, to point at a
non-default daemon.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbose, quiet, json, server := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(server, "server", "", "forged base URL (default: $FORGE_HOST or http://localhost:8080)")

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
