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

package workspace

import (
	"context"
	"os/exec"
)

// removeAllViaShell is the fallback path when os.RemoveAll fails (spec.md
// §4.H), e.g. a subprocess still holding an open file descriptor under
// the tree on a platform where that blocks native removal.
func removeAllViaShell(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "rm", "-rf", "--", path)
	return cmd.Run()
}
