package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	pelletier "github.com/pelletier/go-toml/v2"
)

// fileConfig is the on-disk TOML shape. Durations are strings such as "3s".
type fileConfig struct {
	Steps            int    `toml:"steps"`
	Mode             string `toml:"mode"`
	Timeout          string `toml:"timeout"`
	SessionTimeout   string `toml:"session_timeout"`
	MaxRSSKB         int64  `toml:"max_rss_kb"`
	IncludeRegisters bool   `toml:"include_registers"`
	Verbose          bool   `toml:"verbose"`
	LaunchOrder      string `toml:"launch_order"`
	IdleAfterSteps   string `toml:"idle_after_steps"`

	Program     string   `toml:"program"`
	Source      string   `toml:"source"`
	BreakLine   int      `toml:"break_line"`
	Cwd         string   `toml:"cwd"`
	ProgramArgs []string `toml:"program_args"`

	VariablesCount        int    `toml:"variables_count"`
	VariablesFilter       string `toml:"variables_filter"`
	StopOnEntry           bool   `toml:"stop_on_entry"`
	IgnoreVariablesErrors bool   `toml:"ignore_variables_errors"`
	InspectFirstStop      bool   `toml:"inspect_first_stop"`
	MaxScopeLoads         int    `toml:"max_scope_loads"`
	PreferScope           string `toml:"prefer_scope"`
	LocalsViaEvaluate     bool   `toml:"locals_via_evaluate"`

	Adapter     []string `toml:"adapter"`
	StatusAddr  string   `toml:"status_addr"`
	Report      string   `toml:"report"`
	MetricsFile string   `toml:"metrics_file"`
}

// LoadFile overlays the keys present in the TOML file at path onto base.
// Keys absent from the file keep their base values.
func LoadFile(path string, base SessionConfig) (SessionConfig, error) {
	cfg := base
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("%w: load %s: %v", ErrConfiguration, path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return SessionConfig{}, fmt.Errorf("%w: %s: unknown keys %s", ErrConfiguration, path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("steps") {
		cfg.Steps = raw.Steps
	}
	if meta.IsDefined("mode") {
		mode, err := ParseMode(raw.Mode)
		if err != nil {
			return SessionConfig{}, err
		}
		cfg.Mode = mode
	}
	if meta.IsDefined("timeout") {
		if cfg.Timeout, err = parseDuration("timeout", raw.Timeout); err != nil {
			return SessionConfig{}, err
		}
	}
	if meta.IsDefined("session_timeout") {
		if cfg.SessionTimeout, err = parseDuration("session_timeout", raw.SessionTimeout); err != nil {
			return SessionConfig{}, err
		}
	}
	if meta.IsDefined("max_rss_kb") {
		cfg.MaxRSSKB = raw.MaxRSSKB
	}
	if meta.IsDefined("include_registers") {
		cfg.IncludeRegisters = raw.IncludeRegisters
	}
	if meta.IsDefined("verbose") {
		cfg.Verbose = raw.Verbose
	}
	if meta.IsDefined("launch_order") {
		order, err := ParseLaunchOrder(raw.LaunchOrder)
		if err != nil {
			return SessionConfig{}, err
		}
		cfg.LaunchOrder = order
	}
	if meta.IsDefined("idle_after_steps") {
		if cfg.IdleAfterSteps, err = parseDuration("idle_after_steps", raw.IdleAfterSteps); err != nil {
			return SessionConfig{}, err
		}
	}
	if meta.IsDefined("program") {
		cfg.Program = strings.TrimSpace(raw.Program)
	}
	if meta.IsDefined("source") {
		cfg.Source = strings.TrimSpace(raw.Source)
	}
	if meta.IsDefined("break_line") {
		cfg.BreakLine = raw.BreakLine
	}
	if meta.IsDefined("cwd") {
		cfg.Cwd = strings.TrimSpace(raw.Cwd)
	}
	if meta.IsDefined("program_args") {
		cfg.ProgramArgs = NormalizeArgs(raw.ProgramArgs)
	}
	if meta.IsDefined("variables_count") {
		cfg.VariablesCount = raw.VariablesCount
	}
	if meta.IsDefined("variables_filter") {
		cfg.VariablesFilter = strings.TrimSpace(raw.VariablesFilter)
	}
	if meta.IsDefined("stop_on_entry") {
		cfg.StopOnEntry = raw.StopOnEntry
	}
	if meta.IsDefined("ignore_variables_errors") {
		cfg.IgnoreVariablesErrors = raw.IgnoreVariablesErrors
	}
	if meta.IsDefined("inspect_first_stop") {
		cfg.InspectFirstStop = raw.InspectFirstStop
	}
	if meta.IsDefined("max_scope_loads") {
		cfg.MaxScopeLoads = raw.MaxScopeLoads
	}
	if meta.IsDefined("prefer_scope") {
		cfg.PreferScope = raw.PreferScope
	}
	if meta.IsDefined("locals_via_evaluate") {
		cfg.LocalsViaEvaluate = raw.LocalsViaEvaluate
	}
	if meta.IsDefined("adapter") {
		cfg.Adapter = NormalizeArgs(raw.Adapter)
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("report") {
		cfg.Report = strings.TrimSpace(raw.Report)
	}
	if meta.IsDefined("metrics_file") {
		cfg.MetricsFile = strings.TrimSpace(raw.MetricsFile)
	}
	return cfg, nil
}

// Dump renders cfg in the file format LoadFile reads.
func Dump(cfg SessionConfig) ([]byte, error) {
	out, err := pelletier.Marshal(toFile(cfg))
	if err != nil {
		return nil, fmt.Errorf("config dump failed: %w", err)
	}
	return out, nil
}

func toFile(c SessionConfig) fileConfig {
	return fileConfig{
		Steps:                 c.Steps,
		Mode:                  string(c.Mode),
		Timeout:               c.Timeout.String(),
		SessionTimeout:        c.SessionTimeout.String(),
		MaxRSSKB:              c.MaxRSSKB,
		IncludeRegisters:      c.IncludeRegisters,
		Verbose:               c.Verbose,
		LaunchOrder:           string(c.LaunchOrder),
		IdleAfterSteps:        c.IdleAfterSteps.String(),
		Program:               c.Program,
		Source:                c.Source,
		BreakLine:             c.BreakLine,
		Cwd:                   c.Cwd,
		ProgramArgs:           c.ProgramArgs,
		VariablesCount:        c.VariablesCount,
		VariablesFilter:       c.VariablesFilter,
		StopOnEntry:           c.StopOnEntry,
		IgnoreVariablesErrors: c.IgnoreVariablesErrors,
		InspectFirstStop:      c.InspectFirstStop,
		MaxScopeLoads:         c.MaxScopeLoads,
		PreferScope:           c.PreferScope,
		LocalsViaEvaluate:     c.LocalsViaEvaluate,
		Adapter:               c.Adapter,
		StatusAddr:            c.StatusAddr,
		Report:                c.Report,
		MetricsFile:           c.MetricsFile,
	}
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, key, err)
	}
	return d, nil
}
