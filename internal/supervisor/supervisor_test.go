//go:build unix

package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/steploop/internal/testutil/testlog"
)

func spawnShell(t *testing.T, script string, opts Options) *Supervisor {
	t.Helper()
	s, err := Spawn(context.Background(), Spec{Path: "/bin/sh", Args: []string{"-c", script}}, opts)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() { s.Teardown(nil) })
	return s
}

func waitDone(t *testing.T, s *Supervisor) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not exit")
	}
}

func TestSpawnPipesRoundTrip(t *testing.T) {
	testlog.Start(t)
	s := spawnShell(t, "cat", DefaultOptions())
	if s.PID() <= 0 {
		t.Fatalf("missing pid")
	}
	if _, err := s.Stdin().Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Stdout().SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(s.Stdout(), buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "ping\n" {
		t.Fatalf("echo mismatch %q", buf)
	}
	if _, exited := s.Exited(); exited {
		t.Fatalf("cat should still be running")
	}
}

func TestSpawnRejectsEmptyCommand(t *testing.T) {
	testlog.Start(t)
	_, err := Spawn(context.Background(), Spec{}, DefaultOptions())
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	_, err = Spawn(context.Background(), Spec{Path: "/nonexistent/steploop-adapter"}, DefaultOptions())
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn for missing binary, got %v", err)
	}
}

func TestExitedReportsCodeAndStderrTail(t *testing.T) {
	testlog.Start(t)
	s := spawnShell(t, "echo adapter-died >&2; exit 3", DefaultOptions())
	waitDone(t, s)
	code, exited := s.Exited()
	if !exited || code != 3 {
		t.Fatalf("exited=%v code=%d", exited, code)
	}
	if !strings.Contains(s.StderrTail(), "adapter-died") {
		t.Fatalf("stderr tail missing output: %q", s.StderrTail())
	}
	if rss := s.SampleRSSKB(); rss != -1 {
		t.Fatalf("exited process should sample -1, got %d", rss)
	}
}

func TestTeardownDisconnectOnly(t *testing.T) {
	testlog.Start(t)
	s := spawnShell(t, "cat >/dev/null", DefaultOptions())
	calls := 0
	report := s.Teardown(func() error {
		calls++
		_ = s.Stdin().Close()
		select {
		case <-s.Done():
		case <-time.After(2 * time.Second):
		}
		return nil
	})
	if calls != 1 {
		t.Fatalf("disconnect calls=%d", calls)
	}
	if !report.Ran(StageDisconnect) || report.Ran(StageTerminate) || report.Ran(StageKill) {
		t.Fatalf("unexpected stages %v", report.Stages)
	}
	if !report.Exited {
		t.Fatalf("process should have exited")
	}
	again := s.Teardown(func() error {
		calls++
		return nil
	})
	if calls != 1 || len(again.Stages) != len(report.Stages) {
		t.Fatalf("teardown ran twice calls=%d stages=%v", calls, again.Stages)
	}
}

func TestTeardownEscalatesToKill(t *testing.T) {
	testlog.Start(t)
	opts := DefaultOptions()
	opts.TermWait = 100 * time.Millisecond
	s := spawnShell(t, `trap "" TERM; while :; do sleep 0.05; done`, opts)
	// let the shell install its trap
	time.Sleep(100 * time.Millisecond)
	report := s.Teardown(func() error { return errors.New("adapter not answering") })
	for _, stage := range []TeardownStage{StageDisconnect, StageTerminate, StageKill} {
		if !report.Ran(stage) {
			t.Fatalf("stage %s missing from %v", stage, report.Stages)
		}
	}
	if !report.Exited {
		t.Fatalf("kill stage should reap the process")
	}
	if len(report.Errors) == 0 {
		t.Fatalf("disconnect error should be recorded")
	}
}

func TestTeardownSkipsStagesAfterExit(t *testing.T) {
	testlog.Start(t)
	s := spawnShell(t, "exit 0", DefaultOptions())
	waitDone(t, s)
	report := s.Teardown(func() error {
		t.Fatalf("disconnect must not run after exit")
		return nil
	})
	if len(report.Stages) != 0 || !report.Exited || report.ExitCode != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestReadRSSKB(t *testing.T) {
	testlog.Start(t)
	if got := ReadRSSKB(os.Getpid()); got <= 0 {
		t.Fatalf("self rss=%d", got)
	}
	if got := ReadRSSKB(0); got != -1 {
		t.Fatalf("invalid pid rss=%d", got)
	}
}

func TestTailBufferKeepsEnd(t *testing.T) {
	testlog.Start(t)
	tb := newTailBuffer(4)
	_, _ = tb.Write([]byte("ab"))
	_, _ = tb.Write([]byte("cdef"))
	if tb.String() != "cdef" {
		t.Fatalf("tail=%q", tb.String())
	}
	_, _ = tb.Write([]byte("0123456789"))
	if tb.String() != "6789" {
		t.Fatalf("tail=%q", tb.String())
	}
	_, _ = tb.Write([]byte("x"))
	if tb.String() != "789x" {
		t.Fatalf("tail=%q", tb.String())
	}
}
