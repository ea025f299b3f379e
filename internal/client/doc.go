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
Package client provides an HTTP client for a forged daemon's ingress API.

It is forgectl's transport for every subcommand: status checks, event
listing/retry, and manual workflow triggers all go through a *Client.

# Basic usage

	c, err := client.New(client.WithBaseURL("http://localhost:8080"))
	if err != nil {
	    log.Fatal(err)
	}

	status, err := c.Status(ctx)

# Connection options

	// Authenticate with an API key (sent as a bearer token)
	c, _ := client.New(client.WithAPIKey("my-api-key"))

	// Point at a remote daemon
	c, _ := client.New(client.WithBaseURL("https://forge.internal:8443"))

# Environment

FromEnvironment builds a client from FORGE_HOST (tcp://host:port or
https://host:port) and FORGE_API_KEY. forgectl's shared.NewClient
prefers its --server flag over FORGE_HOST, but always applies
FORGE_API_KEY when set.
*/
package client
