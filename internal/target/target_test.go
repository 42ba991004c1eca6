package target

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/steploop/internal/testutil/testlog"
)

type fakeRunner struct {
	name string
	args []string
	code int32
	err  error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	f.name = name
	f.args = args
	if f.err != nil {
		return nil, []byte("loop.cpp:1: error: boom"), f.code, f.err
	}
	return nil, nil, 0, nil
}

func TestBuildWritesSourceAndCompiles(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	runner := &fakeRunner{}
	tgt, err := Build(context.Background(), runner, dir)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tgt.BreakLine != 9 {
		t.Fatalf("break line=%d", tgt.BreakLine)
	}
	if tgt.Source != filepath.Join(dir, "loop.cpp") || tgt.Executable != filepath.Join(dir, "loop.bin") {
		t.Fatalf("unexpected target %+v", tgt)
	}
	if _, err := os.Stat(tgt.Source); err != nil {
		t.Fatalf("source not written: %v", err)
	}
	want := []string{"-g", "-O0", "-fno-omit-frame-pointer", tgt.Source, "-o", tgt.Executable}
	if runner.name != "g++" || len(runner.args) != len(want) {
		t.Fatalf("command %s %v", runner.name, runner.args)
	}
	for i := range want {
		if runner.args[i] != want[i] {
			t.Fatalf("arg %d got=%q want=%q", i, runner.args[i], want[i])
		}
	}
}

func TestBuildFailureIsBuildError(t *testing.T) {
	testlog.Start(t)
	runner := &fakeRunner{code: 1, err: errors.New("exit status 1")}
	_, err := Build(context.Background(), runner, t.TempDir())
	if !errors.Is(err, ErrBuild) {
		t.Fatalf("expected ErrBuild, got %v", err)
	}
}

func TestMarkerLine(t *testing.T) {
	testlog.Start(t)
	if got := MarkerLine([]byte("a\nb // BREAK_HERE\nc"), BreakMarker); got != 2 {
		t.Fatalf("line=%d", got)
	}
	if got := MarkerLine([]byte("nothing here"), BreakMarker); got != 0 {
		t.Fatalf("line=%d", got)
	}
}

func TestSampleShipsAsTemplate(t *testing.T) {
	testlog.Start(t)
	// go refuses to load a package holding C/C++ sources without cgo
	for _, pattern := range []string{"*.c", "*.cc", "*.cpp", "*.cxx", "*.h", "*.hpp"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			t.Fatalf("glob %s: %v", pattern, err)
		}
		if len(matches) > 0 {
			t.Fatalf("package directory holds native sources: %v", matches)
		}
	}
	if MarkerLine(sampleSource, BreakMarker) != 9 {
		t.Fatalf("embedded sample lost its marker")
	}

	dir := t.TempDir()
	if _, err := Build(context.Background(), &fakeRunner{}, dir); err != nil {
		t.Fatalf("build: %v", err)
	}
	written, err := os.ReadFile(filepath.Join(dir, "loop.cpp"))
	if err != nil || !bytes.Equal(written, sampleSource) {
		t.Fatalf("written source differs from embedded sample: err=%v", err)
	}
}
