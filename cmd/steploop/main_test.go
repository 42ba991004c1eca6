package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/danmuck/steploop/internal/config"
	"github.com/danmuck/steploop/internal/protocol/frame"
	"github.com/danmuck/steploop/internal/testutil/testlog"
)

const fakeAdapterEnv = "STEPLOOP_FAKE_ADAPTER"

func TestMain(m *testing.M) {
	if os.Getenv(fakeAdapterEnv) == "1" {
		os.Exit(serveFakeAdapter(os.Stdin, os.Stdout))
	}
	os.Exit(m.Run())
}

// serveFakeAdapter plays a debug adapter on stdio: one breakpoint stop,
// then one step stop per next, and exit on disconnect.
func serveFakeAdapter(in io.Reader, out io.Writer) int {
	framer := frame.NewFramer()
	seq := 0
	line := 9
	send := func(msg map[string]any) {
		seq++
		msg["seq"] = seq
		payload, _ := json.Marshal(msg)
		_ = frame.Write(out, payload)
	}
	respond := func(reqSeq int, command string, body any) {
		msg := map[string]any{"type": "response", "request_seq": reqSeq, "command": command, "success": true}
		if body != nil {
			msg["body"] = body
		}
		send(msg)
	}
	stopped := func(reason string) {
		send(map[string]any{"type": "event", "event": "stopped", "body": map[string]any{
			"reason": reason, "threadId": 1, "allThreadsStopped": true, "description": fmt.Sprintf("line %d", line),
		}})
	}

	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
			for _, payload := range framer.Drain() {
				var req struct {
					Seq     int    `json:"seq"`
					Command string `json:"command"`
				}
				if json.Unmarshal(payload, &req) != nil {
					continue
				}
				switch req.Command {
				case "initialize":
					respond(req.Seq, req.Command, map[string]any{"supportsConfigurationDoneRequest": true})
					send(map[string]any{"type": "event", "event": "initialized"})
				case "configurationDone":
					respond(req.Seq, req.Command, nil)
					stopped("breakpoint")
				case "next":
					respond(req.Seq, req.Command, nil)
					line++
					stopped("step")
				case "disconnect":
					respond(req.Seq, req.Command, nil)
					return 0
				default:
					respond(req.Seq, req.Command, nil)
				}
			}
		}
		if err != nil {
			return 1
		}
	}
}

func resolveArgs(t *testing.T, args ...string) (config.SessionConfig, *runFlags, error) {
	t.Helper()
	var f runFlags
	fs := pflag.NewFlagSet("steploop", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bindRunFlags(fs, &f)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	cfg, err := resolveConfig(fs, &f)
	return cfg, &f, err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestFlagsOverrideFileOnlyWhenChanged(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "steploop.toml", `
steps = 42
mode = "minimal"
timeout = "5s"
launch_order = "after"
`)
	cfg, _, err := resolveArgs(t, "--config", path, "--steps", "7", "--verbose")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Steps != 7 || !cfg.Verbose {
		t.Fatalf("explicit flags should win: steps=%d verbose=%t", cfg.Steps, cfg.Verbose)
	}
	if cfg.Mode != config.ModeMinimal || cfg.Timeout != 5*time.Second || cfg.LaunchOrder != config.BreakpointsAfterLaunch {
		t.Fatalf("file values should survive unset flags: %+v", cfg)
	}
	if cfg.SessionTimeout != config.Default().SessionTimeout {
		t.Fatalf("defaults should fill the rest: %s", cfg.SessionTimeout)
	}
}

func TestFlagParsing(t *testing.T) {
	testlog.Start(t)
	cfg, _, err := resolveArgs(t,
		"--mode", "lightpad",
		"--adapter", "gdb-multiarch --interpreter=dap",
		"--program-arg", "", "--program-arg", "-v",
		"--idle-after-steps", "250ms",
		"--max-rss-kb", "0",
	)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Mode != config.ModeFull {
		t.Fatalf("mode=%s", cfg.Mode)
	}
	if strings.Join(cfg.Adapter, "|") != "gdb-multiarch|--interpreter=dap" {
		t.Fatalf("adapter=%v", cfg.Adapter)
	}
	if len(cfg.ProgramArgs) != 1 || cfg.ProgramArgs[0] != "-v" {
		t.Fatalf("program args=%q", cfg.ProgramArgs)
	}
	if cfg.IdleAfterSteps != 250*time.Millisecond || cfg.MaxRSSKB != 0 {
		t.Fatalf("idle=%s max_rss=%d", cfg.IdleAfterSteps, cfg.MaxRSSKB)
	}
}

func TestFlagValidation(t *testing.T) {
	testlog.Start(t)
	cases := [][]string{
		{"--mode", "verbose"},
		{"--launch-order", "during"},
		{"--program", "/bin/true"},
		{"--steps", "-1"},
		{"--timeout", "0s"},
		{"--variables-filter", "all"},
		{"--adapter", " "},
	}
	for _, args := range cases {
		if _, _, err := resolveArgs(t, args...); !errors.Is(err, config.ErrConfiguration) {
			t.Fatalf("args %v: expected ErrConfiguration, got %v", args, err)
		}
	}
}

func TestPrintConfigAndInit(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	root := newRootCommand(&out)
	root.SetArgs([]string{"--print-config", "--steps", "11"})
	if err := root.Execute(); err != nil {
		t.Fatalf("print-config: %v", err)
	}
	if !strings.Contains(out.String(), "steps = 11") {
		t.Fatalf("print-config output:\n%s", out.String())
	}

	path := filepath.Join(t.TempDir(), "steploop.toml")
	out.Reset()
	root = newRootCommand(&out)
	root.SetArgs([]string{"config", "init", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := config.LoadFile(path, config.Default()); err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	root = newRootCommand(&out)
	root.SetArgs([]string{"config", "init", path})
	if err := root.Execute(); !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}
}

type recordingRunner struct {
	calls [][]string
	err   error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.err != nil {
		return nil, []byte("boom"), 1, r.err
	}
	return nil, nil, 0, nil
}

func TestPrepareTarget(t *testing.T) {
	testlog.Start(t)
	tmp := t.TempDir()
	runner := &recordingRunner{}
	cfg, err := prepareTarget(context.Background(), config.Default(), runner, tmp)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if cfg.Program != filepath.Join(tmp, "loop.bin") || cfg.Source != filepath.Join(tmp, "loop.cpp") || cfg.Cwd != tmp {
		t.Fatalf("built target cfg=%+v", cfg)
	}
	if cfg.BreakLine <= 0 || len(runner.calls) != 1 || runner.calls[0][0] != "g++" {
		t.Fatalf("break_line=%d calls=%v", cfg.BreakLine, runner.calls)
	}

	progDir := t.TempDir()
	supplied := config.Default()
	supplied.Program = writeFile(t, progDir, "prog", "")
	supplied.Source = writeFile(t, progDir, "prog.c", "")
	supplied.BreakLine = 3
	runner = &recordingRunner{}
	cfg, err = prepareTarget(context.Background(), supplied, runner, tmp)
	if err != nil {
		t.Fatalf("prepare supplied: %v", err)
	}
	if cfg.Cwd != progDir || len(runner.calls) != 0 {
		t.Fatalf("supplied program cwd=%s calls=%v", cfg.Cwd, runner.calls)
	}

	supplied.Source = filepath.Join(progDir, "missing.c")
	if _, err := prepareTarget(context.Background(), supplied, runner, tmp); !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("expected missing source error, got %v", err)
	}
}

func TestPrepareTargetResolvesRelativePaths(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "build"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(root, "build"), "app", "")
	writeFile(t, root, "app.c", "")
	prevWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prevWd) })
	root, err = os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	cfg := config.Default()
	cfg.Program = "build/app"
	cfg.Source = "app.c"
	cfg.BreakLine = 3
	cfg, err = prepareTarget(context.Background(), cfg, &recordingRunner{}, t.TempDir())
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if cfg.Program != filepath.Join(root, "build", "app") || cfg.Source != filepath.Join(root, "app.c") {
		t.Fatalf("paths not absolute: program=%s source=%s", cfg.Program, cfg.Source)
	}
	if cfg.Cwd != filepath.Join(root, "build") {
		t.Fatalf("cwd=%s", cfg.Cwd)
	}
	// the adapter runs from Cwd, so only absolute paths survive the hop
	if !filepath.IsAbs(cfg.Program) || !filepath.IsAbs(cfg.Source) {
		t.Fatalf("program=%s source=%s", cfg.Program, cfg.Source)
	}

	cfg = config.Default()
	cfg.Program = "build/app"
	cfg.Source = "app.c"
	cfg.BreakLine = 3
	cfg.Cwd = "build"
	cfg, err = prepareTarget(context.Background(), cfg, &recordingRunner{}, t.TempDir())
	if err != nil {
		t.Fatalf("prepare with cwd: %v", err)
	}
	if cfg.Cwd != filepath.Join(root, "build") {
		t.Fatalf("explicit relative cwd not resolved: %s", cfg.Cwd)
	}

	t.Setenv("HOME", root)
	got, err := absPath("program", "~/build/app")
	if err != nil || got != filepath.Join(root, "build", "app") {
		t.Fatalf("home expansion got=%s err=%v", got, err)
	}
}

func TestRunHarnessAgainstChildAdapter(t *testing.T) {
	testlog.Start(t)
	exe, err := os.Executable()
	if err != nil {
		t.Skipf("no test executable: %v", err)
	}
	t.Setenv(fakeAdapterEnv, "1")

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Steps = 3
	cfg.Mode = config.ModeMinimal
	cfg.Timeout = 5 * time.Second
	cfg.SessionTimeout = 30 * time.Second
	cfg.MaxRSSKB = 0
	cfg.Program = writeFile(t, dir, "loop.bin", "")
	cfg.Source = writeFile(t, dir, "loop.cpp", "")
	cfg.BreakLine = 9
	cfg.Adapter = []string{exe}
	cfg.Report = filepath.Join(dir, "run.yaml")
	cfg.MetricsFile = filepath.Join(dir, "run.prom")

	var out bytes.Buffer
	sum, err := runHarness(context.Background(), cfg, &out)
	if err != nil {
		t.Fatalf("run: %v\nstderr=%s", err, sum.StderrTail)
	}
	if sum.Stats.StepsCompleted != 3 || sum.Stats.Stops != 4 {
		t.Fatalf("stats=%+v", sum.Stats)
	}
	if !strings.Contains(out.String(), "summary run_id="+sum.RunID) || !strings.Contains(out.String(), "steps=3 mode=minimal") {
		t.Fatalf("stdout=%q", out.String())
	}
	if !sum.Teardown.Exited {
		t.Fatalf("adapter still running after teardown: %+v", sum.Teardown)
	}
	report, err := os.ReadFile(cfg.Report)
	if err != nil || !strings.Contains(string(report), "outcome: passed") {
		t.Fatalf("report err=%v body=%s", err, report)
	}
	metrics, err := os.ReadFile(cfg.MetricsFile)
	if err != nil || !strings.Contains(string(metrics), "steploop_steps_completed") {
		t.Fatalf("metrics err=%v body=%s", err, metrics)
	}
}
