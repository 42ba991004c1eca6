package supervisor

import (
	"fmt"
	"time"

	logs "github.com/danmuck/steploop/internal/logging"
)

// TeardownStage names one escalation step.
type TeardownStage string

const (
	StageDisconnect TeardownStage = "disconnect"
	StageTerminate  TeardownStage = "terminate"
	StageKill       TeardownStage = "kill"
)

// TeardownReport records what teardown had to do.
type TeardownReport struct {
	Stages   []TeardownStage
	Exited   bool
	ExitCode int
	Elapsed  time.Duration
	// Errors are informational; teardown never fails.
	Errors []string
}

func (r TeardownReport) Ran(stage TeardownStage) bool {
	for _, s := range r.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// Teardown stops the adapter exactly once: disconnect (when supplied), then
// SIGTERM with a bounded wait, then SIGKILL with a bounded wait. Stages are
// skipped once the process has exited. Later calls return the first report.
func (s *Supervisor) Teardown(disconnect func() error) TeardownReport {
	s.teardownOnce.Do(func() {
		s.report = s.teardown(disconnect)
	})
	return s.report
}

func (s *Supervisor) teardown(disconnect func() error) TeardownReport {
	start := time.Now()
	var report TeardownReport
	note := func(stage TeardownStage, err error) {
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", stage, err))
		}
	}

	if _, exited := s.Exited(); !exited && disconnect != nil {
		report.Stages = append(report.Stages, StageDisconnect)
		note(StageDisconnect, safeCall(disconnect))
	}
	if _, exited := s.Exited(); !exited {
		report.Stages = append(report.Stages, StageTerminate)
		note(StageTerminate, terminate(s.cmd))
		s.waitExit(s.opts.TermWait)
	}
	if _, exited := s.Exited(); !exited {
		report.Stages = append(report.Stages, StageKill)
		note(StageKill, kill(s.cmd))
		s.waitExit(s.opts.KillWait)
	}

	_ = s.stdin.Close()
	_ = s.stdout.Close()

	report.ExitCode, report.Exited = s.Exited()
	report.Elapsed = time.Since(start)
	logs.Infof(
		"supervisor.Teardown pid=%d stages=%v exited=%t code=%d elapsed=%s",
		s.PID(), report.Stages, report.Exited, report.ExitCode, report.Elapsed.Round(time.Millisecond),
	)
	for _, e := range report.Errors {
		logs.Debugf("supervisor.Teardown ignored %s", e)
	}
	return report
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
