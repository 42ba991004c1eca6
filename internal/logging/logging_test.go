package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestApplyBypassWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Apply(Config{Level: zerolog.InfoLevel, Bypass: true, Out: &buf})
	t.Cleanup(func() { Apply(defaultConfig(ProfileTest)) })

	Debugf("hidden step=%d", 1)
	Infof("harness.Session.step i=%d", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line at info, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode %q: %v", lines[0], err)
	}
	if entry["message"] != "harness.Session.step i=3" || entry["level"] != "info" {
		t.Fatalf("entry=%v", entry)
	}
	if _, ok := entry["time"]; ok {
		t.Fatalf("timestamp should be off: %v", entry)
	}
}

func TestSetVerboseOnlyLowers(t *testing.T) {
	Apply(Config{Level: zerolog.WarnLevel, Bypass: true, Out: &bytes.Buffer{}})
	t.Cleanup(func() { Apply(defaultConfig(ProfileTest)) })

	SetVerbose(false)
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("level=%s", zerolog.GlobalLevel())
	}
	SetVerbose(true)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("level=%s", zerolog.GlobalLevel())
	}
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	SetVerbose(true)
	if zerolog.GlobalLevel() != zerolog.TraceLevel {
		t.Fatalf("verbose must not raise trace to debug")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warning")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogBypass, "nope")
	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.WarnLevel || !cfg.NoColor || cfg.Bypass {
		t.Fatalf("cfg=%+v", cfg)
	}
	if _, ok := parseLevel("loud"); ok {
		t.Fatalf("unknown level accepted")
	}
}
