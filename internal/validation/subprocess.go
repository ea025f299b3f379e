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
	"bytes"
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/forgecd/forge/pkg/ferrors"
)

// gracefulKillDelay is how long the subprocess gets to exit after a
// graceful termination signal before a forced kill follows (spec.md
// §4.I: "5 s later, send forced kill").
const gracefulKillDelay = 5 * time.Second

// subprocessResult is the captured outcome of one supervised command
// run.
type subprocessResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// runSubprocess spawns name(args...) in dir with separate stdout/stderr
// capture (grounded on the teacher's ShellConnector.run). If ctx is
// cancelled or the overall timeout elapses, the process is sent a
// graceful termination signal and forcibly killed gracefulKillDelay
// later if it hasn't exited.
func runSubprocess(ctx context.Context, name string, args []string, dir string, env map[string]string) (subprocessResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	forced := false
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = gracefulKillDelay

	err := cmd.Run()

	result := subprocessResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		result.ExitCode = 0
		return result, nil
	}

	if ctx.Err() != nil {
		// cmd.Run returns once WaitDelay elapses without the process
		// having exited; at that point the stdlib has already sent
		// Kill on our behalf.
		forced = true
		return result, &ferrors.ProcessKilledError{Command: name, Signal: "SIGTERM", Forced: forced}
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, &ferrors.TransportError{Operation: "subprocess:" + name, Cause: err}
	}
	return result, &ferrors.InternalError{Op: "subprocess:" + name, Cause: err}
}
