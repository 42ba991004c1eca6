package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var ErrConfiguration = errors.New("config: invalid configuration")

// Mode selects how much inspection happens at every stop.
type Mode string

const (
	ModeFull    Mode = "full"
	ModeMinimal Mode = "minimal"
)

// ParseMode accepts "lightpad" as an alias for full.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "lightpad":
		return ModeFull, nil
	case "minimal":
		return ModeMinimal, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q (want full|minimal)", ErrConfiguration, s)
	}
}

// LaunchOrder places setBreakpoints relative to launch.
type LaunchOrder string

const (
	BreakpointsBeforeLaunch LaunchOrder = "before"
	BreakpointsAfterLaunch  LaunchOrder = "after"
)

func ParseLaunchOrder(s string) (LaunchOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "before":
		return BreakpointsBeforeLaunch, nil
	case "after":
		return BreakpointsAfterLaunch, nil
	default:
		return "", fmt.Errorf("%w: unknown launch order %q (want before|after)", ErrConfiguration, s)
	}
}

// DefaultAdapter is the adapter command line used when none is configured.
var DefaultAdapter = []string{"gdb", "--interpreter=dap", "-q"}

// SessionConfig is the resolved harness configuration. It is treated as
// immutable once the session starts.
type SessionConfig struct {
	Steps            int
	Mode             Mode
	Timeout          time.Duration
	SessionTimeout   time.Duration
	MaxRSSKB         int64
	IncludeRegisters bool
	Verbose          bool
	LaunchOrder      LaunchOrder
	IdleAfterSteps   time.Duration

	Program     string
	Source      string
	BreakLine   int
	Cwd         string
	ProgramArgs []string

	VariablesCount        int
	VariablesFilter       string
	StopOnEntry           bool
	IgnoreVariablesErrors bool
	InspectFirstStop      bool
	MaxScopeLoads         int
	PreferScope           string
	LocalsViaEvaluate     bool

	Adapter     []string
	StatusAddr  string
	Report      string
	MetricsFile string
}

func Default() SessionConfig {
	return SessionConfig{
		Steps:          300,
		Mode:           ModeFull,
		Timeout:        3 * time.Second,
		SessionTimeout: 120 * time.Second,
		MaxRSSKB:       700000,
		LaunchOrder:    BreakpointsBeforeLaunch,
		Adapter:        append([]string(nil), DefaultAdapter...),
	}
}

// Validate checks option combinations. It does not touch the filesystem;
// see CheckPaths.
func (c SessionConfig) Validate() error {
	if c.Steps < 0 {
		return fmt.Errorf("%w: steps must be >= 0", ErrConfiguration)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrConfiguration)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("%w: session timeout must be > 0", ErrConfiguration)
	}
	if c.IdleAfterSteps < 0 {
		return fmt.Errorf("%w: idle after steps must be >= 0", ErrConfiguration)
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if _, err := ParseLaunchOrder(string(c.LaunchOrder)); err != nil {
		return err
	}
	switch c.VariablesFilter {
	case "", "named", "indexed":
	default:
		return fmt.Errorf("%w: unknown variables filter %q (want named|indexed)", ErrConfiguration, c.VariablesFilter)
	}
	if c.VariablesCount < 0 {
		return fmt.Errorf("%w: variables count must be >= 0", ErrConfiguration)
	}
	if c.MaxScopeLoads < 0 {
		return fmt.Errorf("%w: max scope loads must be >= 0", ErrConfiguration)
	}
	if len(c.Adapter) == 0 || strings.TrimSpace(c.Adapter[0]) == "" {
		return fmt.Errorf("%w: adapter command is empty", ErrConfiguration)
	}
	if c.Program != "" {
		if c.Source == "" {
			return fmt.Errorf("%w: --source is required when --program is provided", ErrConfiguration)
		}
		if c.BreakLine <= 0 {
			return fmt.Errorf("%w: --break-line must be > 0 when --program is provided", ErrConfiguration)
		}
	}
	return nil
}

// CheckPaths verifies a user-supplied program and source exist.
func (c SessionConfig) CheckPaths() error {
	if c.Program == "" {
		return nil
	}
	for label, path := range map[string]string{"program": c.Program, "source": c.Source} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %s not found: %s", ErrConfiguration, label, path)
		}
	}
	return nil
}

// Inspects reports whether the inspection sweep runs after steps.
func (c SessionConfig) Inspects() bool {
	return c.Mode == ModeFull
}

// NormalizeArgs drops empty program arguments.
func NormalizeArgs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, arg := range in {
		if arg == "" {
			continue
		}
		out = append(out, arg)
	}
	return out
}
