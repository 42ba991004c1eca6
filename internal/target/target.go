// Package target produces the debuggee the harness steps through: either
// the built-in sample loop or a user-supplied program.
package target

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logs "github.com/danmuck/steploop/internal/logging"
	"github.com/danmuck/steploop/internal/tools"
)

var ErrBuild = errors.New("target: build failed")

// BreakMarker tags the sample line the harness breaks on.
const BreakMarker = "BREAK_HERE"

//go:embed loop.cpp.tmpl
var sampleSource []byte

// Target is a debuggee plus the source location of its breakpoint.
type Target struct {
	Source     string
	Executable string
	BreakLine  int
}

// Compiler is the sample build command line without its file operands.
var Compiler = []string{"g++", "-g", "-O0", "-fno-omit-frame-pointer"}

// Build writes the sample loop into dir and compiles it with debug info.
func Build(ctx context.Context, runner tools.CommandRunner, dir string) (Target, error) {
	src := filepath.Join(dir, "loop.cpp")
	exe := filepath.Join(dir, "loop.bin")
	if err := os.WriteFile(src, sampleSource, 0o644); err != nil {
		return Target{}, fmt.Errorf("%w: write source: %v", ErrBuild, err)
	}
	line := MarkerLine(sampleSource, BreakMarker)
	if line <= 0 {
		return Target{}, fmt.Errorf("%w: failed to locate %s line", ErrBuild, BreakMarker)
	}

	args := append(append([]string{}, Compiler[1:]...), src, "-o", exe)
	_, stderr, code, err := runner.Run(ctx, Compiler[0], args...)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s exit=%d: %v: %s", ErrBuild, Compiler[0], code, err, strings.TrimSpace(string(stderr)))
	}
	logs.Infof("target.Build source=%s exe=%s break_line=%d", src, exe, line)
	return Target{Source: src, Executable: exe, BreakLine: line}, nil
}

// MarkerLine returns the 1-based line containing marker, or 0.
func MarkerLine(source []byte, marker string) int {
	for i, line := range bytes.Split(source, []byte("\n")) {
		if bytes.Contains(line, []byte(marker)) {
			return i + 1
		}
	}
	return 0
}
