// Package report renders a finished run as a machine-readable document.
// The file extension picks the encoding: .yaml/.yml for YAML, anything
// else for JSON.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danmuck/steploop/internal/harness"
)

type Stats struct {
	Requests           int   `json:"requests" yaml:"requests"`
	Events             int   `json:"events" yaml:"events"`
	Stops              int   `json:"stops" yaml:"stops"`
	DuplicateStops     int   `json:"duplicate_stops" yaml:"duplicate_stops"`
	SpontaneousEvents  int   `json:"spontaneous_events" yaml:"spontaneous_events"`
	StepsCompleted     int   `json:"steps_completed" yaml:"steps_completed"`
	ToleratedFailures  int   `json:"tolerated_failures" yaml:"tolerated_failures"`
	DuplicateResponses int   `json:"duplicate_responses" yaml:"duplicate_responses"`
	PeakRSSKB          int64 `json:"peak_rss_kb" yaml:"peak_rss_kb"`
}

type Teardown struct {
	Stages   []string `json:"stages" yaml:"stages"`
	Exited   bool     `json:"exited" yaml:"exited"`
	ExitCode int      `json:"exit_code" yaml:"exit_code"`
	Elapsed  string   `json:"elapsed" yaml:"elapsed"`
	Errors   []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Document is the on-disk report shape.
type Document struct {
	RunID       string   `json:"run_id" yaml:"run_id"`
	Outcome     string   `json:"outcome" yaml:"outcome"`
	Mode        string   `json:"mode" yaml:"mode"`
	Steps       int      `json:"steps" yaml:"steps"`
	Started     string   `json:"started" yaml:"started"`
	Duration    string   `json:"duration" yaml:"duration"`
	FailedPhase string   `json:"failed_phase,omitempty" yaml:"failed_phase,omitempty"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`
	Stats       Stats    `json:"stats" yaml:"stats"`
	Teardown    Teardown `json:"teardown" yaml:"teardown"`
	StderrTail  string   `json:"stderr_tail,omitempty" yaml:"stderr_tail,omitempty"`
}

func FromSummary(sum harness.Summary) Document {
	stages := make([]string, 0, len(sum.Teardown.Stages))
	for _, st := range sum.Teardown.Stages {
		stages = append(stages, string(st))
	}
	return Document{
		RunID:       sum.RunID,
		Outcome:     string(sum.Outcome),
		Mode:        sum.Mode,
		Steps:       sum.Steps,
		Started:     sum.Started.UTC().Format(time.RFC3339Nano),
		Duration:    sum.Duration.String(),
		FailedPhase: string(sum.FailedPhase),
		Error:       sum.Error,
		Stats: Stats{
			Requests:           sum.Stats.Requests,
			Events:             sum.Stats.Events,
			Stops:              sum.Stats.Stops,
			DuplicateStops:     sum.Stats.DuplicateStops,
			SpontaneousEvents:  sum.Stats.SpontaneousEvents,
			StepsCompleted:     sum.Stats.StepsCompleted,
			ToleratedFailures:  sum.Stats.ToleratedFailures,
			DuplicateResponses: sum.Stats.DuplicateResponses,
			PeakRSSKB:          sum.Stats.PeakRSSKB,
		},
		Teardown: Teardown{
			Stages:   stages,
			Exited:   sum.Teardown.Exited,
			ExitCode: sum.Teardown.ExitCode,
			Elapsed:  sum.Teardown.Elapsed.String(),
			Errors:   sum.Teardown.Errors,
		},
		StderrTail: sum.StderrTail,
	}
}

// Encode renders doc in the format selected by path.
func Encode(path string, doc Document) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(doc)
	default:
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	}
}

// Write renders sum to path.
func Write(path string, sum harness.Summary) error {
	data, err := Encode(path, FromSummary(sum))
	if err != nil {
		return fmt.Errorf("encode report %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
