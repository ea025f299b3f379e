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
	"os"

	"github.com/forgecd/forge/internal/client"
)

// NewClient builds a client.Client honoring, in priority order, the
// --server flag, FORGE_HOST, then client.DefaultTransport's
// localhost:8080. FORGE_API_KEY is always applied if set.
func NewClient() (*client.Client, error) {
	opts := []client.Option{}

	if server := GetServerURL(); server != "" {
		opts = append(opts, client.WithBaseURL(server))
	} else if host := os.Getenv(client.ForgeHostEnv); host != "" {
		transport, err := client.ParseForgeHost(host)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithTransport(transport))
	}

	if apiKey := os.Getenv(client.ForgeAPIKeyEnv); apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}

	return client.New(opts...)
}
