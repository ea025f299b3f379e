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

/*
Package cli provides the root command and shared configuration for
forgectl, the operator CLI for a forged daemon.

This package creates the main Cobra command tree and handles global
concerns like version information, persistent flags, and error
handling. Individual commands are implemented in the internal/commands
subpackages, each built against forged's internal/ingress HTTP API via
internal/client.

# Command Tree

The CLI is organized as:

	forgectl
	├── status          Daemon health and load
	├── events
	│   ├── list        List recorded webhook events for a source
	│   └── retry       Re-enqueue an event for reprocessing
	├── trigger         Manually start a workflow
	├── config          Show forged's running configuration
	├── version         Show version
	└── help            Show help

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	// ... add commands ...
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

All commands inherit these flags:

	--verbose, -v    Enable verbose output
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--server         forged base URL (default: $FORGE_HOST or http://localhost:8080)

# Error Handling

Errors are handled centrally to ensure proper exit codes:

  - Exit 0:  Success
  - Exit 1:  General error
  - Exit 2:  Invalid usage
  - Exit 69: forged unreachable (EX_UNAVAILABLE)

Use HandleExitError for consistent error handling:

	if err := cmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}
*/
package cli
