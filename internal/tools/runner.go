package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	logs "github.com/danmuck/steploop/internal/logging"
)

// ExitNotFound is reported when the executable cannot be started at all.
const ExitNotFound int32 = 127

// CommandRunner runs a host command to completion and returns
// stdout, stderr and the exit code.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error)
}

// ExecRunner runs commands on the local host. Dir, when set, is the
// working directory of every command.
type ExecRunner struct {
	Dir string
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	code := exitCode(err)
	logs.Debugf("tools.ExecRunner.Run cmd=%q code=%d elapsed=%s", strings.TrimSpace(name+" "+strings.Join(args, " ")), code, time.Since(start).Round(time.Millisecond))

	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%s: %w", name, ctx.Err())
	}
	return stdout.Bytes(), stderr.Bytes(), code, err
}

func exitCode(err error) int32 {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return int32(exitErr.ExitCode())
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return ExitNotFound
	}
	return 1
}
