package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/danmuck/steploop/internal/config"
)

// runFlags mirrors config.SessionConfig as flag-friendly values.
type runFlags struct {
	configPath  string
	printConfig bool

	steps            int
	mode             string
	timeout          time.Duration
	sessionTimeout   time.Duration
	maxRSSKB         int64
	includeRegisters bool
	verbose          bool
	launchOrder      string
	idleAfterSteps   time.Duration

	program     string
	source      string
	breakLine   int
	cwd         string
	programArgs []string

	variablesCount        int
	variablesFilter       string
	stopOnEntry           bool
	ignoreVariablesErrors bool
	inspectFirstStop      bool
	maxScopeLoads         int
	preferScope           string
	localsViaEvaluate     bool

	adapter     string
	statusAddr  string
	report      string
	metricsFile string
}

func bindRunFlags(fs *pflag.FlagSet, f *runFlags) {
	def := config.Default()

	fs.StringVar(&f.configPath, "config", "", "TOML config file; flags given explicitly override it")
	fs.BoolVar(&f.printConfig, "print-config", false, "Print the resolved config as TOML and exit")

	fs.IntVar(&f.steps, "steps", def.Steps, "Number of step requests to issue")
	fs.StringVar(&f.mode, "mode", string(def.Mode), "Inspection mode: full|minimal (lightpad = full)")
	fs.DurationVar(&f.timeout, "timeout", def.Timeout, "Per-request response timeout")
	fs.DurationVar(&f.sessionTimeout, "session-timeout", def.SessionTimeout, "Wall-clock limit for the whole run")
	fs.Int64Var(&f.maxRSSKB, "max-rss-kb", def.MaxRSSKB, "Adapter resident memory ceiling in KiB (0 disables)")
	fs.BoolVar(&f.includeRegisters, "include-registers", def.IncludeRegisters, "Load register scopes during inspection")
	fs.BoolVar(&f.verbose, "verbose", def.Verbose, "Echo protocol traffic at debug level")
	fs.StringVar(&f.launchOrder, "launch-order", string(def.LaunchOrder), "Send setBreakpoints before or after launch")
	fs.DurationVar(&f.idleAfterSteps, "idle-after-steps", def.IdleAfterSteps, "Keep the session open this long after stepping")

	fs.StringVar(&f.program, "program", "", "Debuggee executable; the sample loop is built when empty")
	fs.StringVar(&f.source, "source", "", "Source file holding the breakpoint (required with --program)")
	fs.IntVar(&f.breakLine, "break-line", 0, "Breakpoint line in --source (required with --program)")
	fs.StringVar(&f.cwd, "cwd", "", "Debuggee working directory (default: program dir or temp dir)")
	fs.StringArrayVar(&f.programArgs, "program-arg", nil, "Debuggee argument, repeatable")

	fs.IntVar(&f.variablesCount, "variables-count", def.VariablesCount, "Count sent with variables requests (0 omits)")
	fs.StringVar(&f.variablesFilter, "variables-filter", def.VariablesFilter, "Filter sent with variables requests: named|indexed")
	fs.BoolVar(&f.stopOnEntry, "stop-on-entry", def.StopOnEntry, "Ask the adapter to stop on entry")
	fs.BoolVar(&f.ignoreVariablesErrors, "ignore-variables-errors", def.IgnoreVariablesErrors, "Tolerate failed variables/evaluate responses")
	fs.BoolVar(&f.inspectFirstStop, "inspect-first-stop", def.InspectFirstStop, "Run the inspection sweep at the first stop")
	fs.IntVar(&f.maxScopeLoads, "max-scope-loads", def.MaxScopeLoads, "Cap on variables loads per stop (0 = unlimited)")
	fs.StringVar(&f.preferScope, "prefer-scope", def.PreferScope, "Inspect scopes whose name contains this first")
	fs.BoolVar(&f.localsViaEvaluate, "locals-via-evaluate", def.LocalsViaEvaluate, "Read locals through a console evaluate")

	fs.StringVar(&f.adapter, "adapter", strings.Join(def.Adapter, " "), "Debug adapter command line")
	fs.StringVar(&f.statusAddr, "status-addr", "", "Serve /health, /status and /metrics on this address")
	fs.StringVar(&f.report, "report", "", "Write a run report (.json, .yaml or .yml)")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "Write run metrics in Prometheus textfile format")
}

// resolveConfig layers defaults, the optional config file, then the flags
// the user actually set.
func resolveConfig(fs *pflag.FlagSet, f *runFlags) (config.SessionConfig, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.LoadFile(f.configPath, cfg)
		if err != nil {
			return config.SessionConfig{}, err
		}
		cfg = loaded
	}

	set := func(name string, apply func() error) error {
		if !fs.Changed(name) {
			return nil
		}
		return apply()
	}
	steps := []struct {
		name  string
		apply func() error
	}{
		{"steps", func() error { cfg.Steps = f.steps; return nil }},
		{"mode", func() error {
			mode, err := config.ParseMode(f.mode)
			cfg.Mode = mode
			return err
		}},
		{"timeout", func() error { cfg.Timeout = f.timeout; return nil }},
		{"session-timeout", func() error { cfg.SessionTimeout = f.sessionTimeout; return nil }},
		{"max-rss-kb", func() error { cfg.MaxRSSKB = f.maxRSSKB; return nil }},
		{"include-registers", func() error { cfg.IncludeRegisters = f.includeRegisters; return nil }},
		{"verbose", func() error { cfg.Verbose = f.verbose; return nil }},
		{"launch-order", func() error {
			order, err := config.ParseLaunchOrder(f.launchOrder)
			cfg.LaunchOrder = order
			return err
		}},
		{"idle-after-steps", func() error { cfg.IdleAfterSteps = f.idleAfterSteps; return nil }},
		{"program", func() error { cfg.Program = f.program; return nil }},
		{"source", func() error { cfg.Source = f.source; return nil }},
		{"break-line", func() error { cfg.BreakLine = f.breakLine; return nil }},
		{"cwd", func() error { cfg.Cwd = f.cwd; return nil }},
		{"program-arg", func() error { cfg.ProgramArgs = config.NormalizeArgs(f.programArgs); return nil }},
		{"variables-count", func() error { cfg.VariablesCount = f.variablesCount; return nil }},
		{"variables-filter", func() error { cfg.VariablesFilter = f.variablesFilter; return nil }},
		{"stop-on-entry", func() error { cfg.StopOnEntry = f.stopOnEntry; return nil }},
		{"ignore-variables-errors", func() error { cfg.IgnoreVariablesErrors = f.ignoreVariablesErrors; return nil }},
		{"inspect-first-stop", func() error { cfg.InspectFirstStop = f.inspectFirstStop; return nil }},
		{"max-scope-loads", func() error { cfg.MaxScopeLoads = f.maxScopeLoads; return nil }},
		{"prefer-scope", func() error { cfg.PreferScope = f.preferScope; return nil }},
		{"locals-via-evaluate", func() error { cfg.LocalsViaEvaluate = f.localsViaEvaluate; return nil }},
		{"adapter", func() error { cfg.Adapter = strings.Fields(f.adapter); return nil }},
		{"status-addr", func() error { cfg.StatusAddr = f.statusAddr; return nil }},
		{"report", func() error { cfg.Report = f.report; return nil }},
		{"metrics-file", func() error { cfg.MetricsFile = f.metricsFile; return nil }},
	}
	for _, step := range steps {
		if err := set(step.name, step.apply); err != nil {
			return config.SessionConfig{}, err
		}
	}

	cfg.ProgramArgs = config.NormalizeArgs(cfg.ProgramArgs)
	if err := cfg.Validate(); err != nil {
		return config.SessionConfig{}, err
	}
	return cfg, nil
}

func printConfig(out io.Writer, cfg config.SessionConfig) error {
	data, err := config.Dump(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

func newConfigCommand(out io.Writer) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage steploop config files",
	}
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a starter TOML config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], overwrite); err != nil {
				return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
			}
			fmt.Fprintf(out, "wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&overwrite, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
