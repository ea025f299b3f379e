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

package validation

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const defaultCloneDepth = 50

// manifestFiles are package-manager manifests that trigger a dependency
// install step after clone (spec.md §4.I).
var manifestFiles = []string{"package.json"}

// cloneRepository performs a shallow, single-branch clone of req into
// ws's src/ directory, then installs dependencies if a recognized
// manifest is present, all under gitTimeout.
func cloneRepository(ctx context.Context, req Request, wsSrcDir string, depth int, gitTimeout time.Duration) error {
	if depth <= 0 {
		depth = defaultCloneDepth
	}
	cloneCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	args := []string{"clone", "--depth", strconv.Itoa(depth), "--single-branch"}
	if req.Ref != "" {
		args = append(args, "--branch", req.Ref)
	}
	args = append(args, req.RepoURL, wsSrcDir)

	if _, err := runSubprocess(cloneCtx, "git", args, "", nil); err != nil {
		return err
	}

	for _, manifest := range manifestFiles {
		if _, statErr := os.Stat(filepath.Join(wsSrcDir, manifest)); statErr == nil {
			if _, err := runSubprocess(cloneCtx, "npm", []string{"install"}, wsSrcDir, nil); err != nil {
				return err
			}
			break
		}
	}
	return nil
}
