package harness

import (
	"fmt"
	"time"

	"github.com/danmuck/steploop/internal/supervisor"
)

// RunStats are the session counters.
type RunStats struct {
	Requests           int
	Events             int
	Stops              int
	DuplicateStops     int
	SpontaneousEvents  int
	StepsCompleted     int
	ToleratedFailures  int
	DuplicateResponses int
	PeakRSSKB          int64
}

// Status is a point-in-time view for status reporting.
type Status struct {
	RunID        string
	Phase        Phase
	ActiveThread int
	Stats        RunStats
	Elapsed      time.Duration
}

// Outcome is the final verdict of a run.
type Outcome string

const (
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"
)

// Summary describes a finished run.
type Summary struct {
	RunID       string
	Mode        string
	Steps       int
	Stats       RunStats
	Started     time.Time
	Duration    time.Duration
	Outcome     Outcome
	FailedPhase Phase
	Error       string
	Teardown    supervisor.TeardownReport
	StderrTail  string
}

// Line is the one-line run summary printed on stdout.
func (s Summary) Line() string {
	return fmt.Sprintf(
		"summary run_id=%s outcome=%s steps=%d mode=%s req=%d evt=%d stops=%d dup_stops=%d spontaneous_events=%d peak_rss_kb=%d",
		s.RunID, s.Outcome, s.Stats.StepsCompleted, s.Mode, s.Stats.Requests, s.Stats.Events,
		s.Stats.Stops, s.Stats.DuplicateStops, s.Stats.SpontaneousEvents, s.Stats.PeakRSSKB,
	)
}

// Observer receives run telemetry. Implementations must not block.
type Observer interface {
	ObserveRequest(command string, elapsed time.Duration, success bool)
	ObserveEvent(name string)
	ObserveStop(duplicate bool)
	ObserveStep(step int, rssKB int64)
	ObservePhase(phase string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, time.Duration, bool) {}
func (nopObserver) ObserveEvent(string)                        {}
func (nopObserver) ObserveStop(bool)                           {}
func (nopObserver) ObserveStep(int, int64)                     {}
func (nopObserver) ObservePhase(string)                        {}
