package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/danmuck/steploop/internal/config"
	"github.com/danmuck/steploop/internal/guard"
	"github.com/danmuck/steploop/internal/harness"
	logs "github.com/danmuck/steploop/internal/logging"
	"github.com/danmuck/steploop/internal/observability"
	"github.com/danmuck/steploop/internal/protocol/session"
	"github.com/danmuck/steploop/internal/report"
	"github.com/danmuck/steploop/internal/server"
	"github.com/danmuck/steploop/internal/supervisor"
	"github.com/danmuck/steploop/internal/target"
	"github.com/danmuck/steploop/internal/tools"
)

const (
	tempPrefix      = "gdb-dap-loop-"
	shutdownTimeout = 2 * time.Second
)

// runHarness prepares the debuggee, spawns the adapter and drives one
// session. The session deadline is armed before the build.
func runHarness(ctx context.Context, cfg config.SessionConfig, out io.Writer) (harness.Summary, error) {
	runID := uuid.NewString()
	clock := guard.New(cfg.SessionTimeout, cfg.MaxRSSKB, nil)

	tmp, err := os.MkdirTemp("", tempPrefix)
	if err != nil {
		return harness.Summary{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			logs.Warnf("steploop.run cleanup dir=%s err=%v", tmp, err)
		}
	}()

	cfg, err = prepareTarget(ctx, cfg, tools.ExecRunner{Dir: tmp}, tmp)
	if err != nil {
		return harness.Summary{}, err
	}
	if err := clock.Check(ctx, "setup"); err != nil {
		return harness.Summary{}, err
	}
	logs.Infof(
		"steploop.run run_id=%s program=%s source=%s break_line=%d steps=%d mode=%s",
		runID, cfg.Program, cfg.Source, cfg.BreakLine, cfg.Steps, cfg.Mode,
	)

	sup, err := supervisor.Spawn(ctx, supervisor.Spec{
		Path: cfg.Adapter[0],
		Args: cfg.Adapter[1:],
		Dir:  cfg.Cwd,
	}, supervisor.DefaultOptions())
	if err != nil {
		return harness.Summary{}, err
	}
	clock.Attach(sup.SampleRSSKB)

	conn := session.NewConn(
		sup.Stdout(), sup.Stdin(), session.DefaultConfig(),
		session.WithExitProbe(sup.Exited),
		session.WithVerbose(cfg.Verbose),
	)
	metrics := observability.NewRunMetrics(runID)
	sess := harness.NewSession(cfg, conn, sup, clock,
		harness.WithObserver(metrics),
		harness.WithRunID(runID),
	)

	if cfg.StatusAddr != "" {
		if !cfg.Verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := server.New(cfg.StatusAddr, sess, metrics, observability.InitLogger("steploop", os.Stderr), nil)
		if err := srv.Start(); err != nil {
			sup.Teardown(nil)
			return harness.Summary{}, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logs.Warnf("steploop.run %v", err)
			}
		}()
	}

	sum, runErr := sess.Run(ctx)
	fmt.Fprintln(out, sum.Line())
	logs.Infof("steploop.run outcome=%s duration=%s teardown=%v", sum.Outcome, sum.Duration, sum.Teardown.Stages)

	if err := writeArtifacts(cfg, sum, metrics); err != nil {
		if runErr != nil {
			logs.Warnf("steploop.run %v", err)
			return sum, runErr
		}
		return sum, err
	}
	return sum, runErr
}

// prepareTarget builds the sample loop when no program is given, checks a
// supplied program otherwise, and resolves the working directory.
func prepareTarget(ctx context.Context, cfg config.SessionConfig, runner tools.CommandRunner, tmp string) (config.SessionConfig, error) {
	if cfg.Program == "" {
		tgt, err := target.Build(ctx, runner, tmp)
		if err != nil {
			return cfg, err
		}
		cfg.Program = tgt.Executable
		cfg.Source = tgt.Source
		cfg.BreakLine = tgt.BreakLine
		if cfg.Cwd == "" {
			cfg.Cwd = tmp
		}
		return cfg, nil
	}
	var err error
	if cfg.Program, err = absPath("program", cfg.Program); err != nil {
		return cfg, err
	}
	if cfg.Source, err = absPath("source", cfg.Source); err != nil {
		return cfg, err
	}
	if cfg.Cwd, err = absPath("cwd", cfg.Cwd); err != nil {
		return cfg, err
	}
	if err := cfg.CheckPaths(); err != nil {
		return cfg, err
	}
	if cfg.Cwd == "" {
		cfg.Cwd = filepath.Dir(cfg.Program)
	}
	return cfg, nil
}

// absPath resolves path against the harness working directory, since the
// adapter runs from a different one. Empty stays empty.
func absPath(label, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("%w: resolve %s %s: %v", config.ErrConfiguration, label, path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s %s: %v", config.ErrConfiguration, label, path, err)
	}
	return abs, nil
}

func writeArtifacts(cfg config.SessionConfig, sum harness.Summary, metrics *observability.RunMetrics) error {
	if cfg.Report != "" {
		if err := report.Write(cfg.Report, sum); err != nil {
			return err
		}
		logs.Infof("steploop.run report=%s", cfg.Report)
	}
	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			return err
		}
		logs.Infof("steploop.run metrics_file=%s", cfg.MetricsFile)
	}
	return nil
}
