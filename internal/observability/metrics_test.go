package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danmuck/steploop/internal/testutil/testlog"
)

func TestRunMetricsRecordRun(t *testing.T) {
	testlog.Start(t)
	m := NewRunMetrics("run-a")
	m.ObservePhase("stepping")
	m.ObserveRequest("next", 3*time.Millisecond, true)
	m.ObserveRequest("next", 4*time.Millisecond, true)
	m.ObserveRequest("variables", time.Millisecond, false)
	m.ObserveEvent("stopped")
	m.ObserveStop(false)
	m.ObserveStop(true)
	m.ObserveStep(2, 4096)
	m.ObserveStep(3, -1)
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("next", "true")); got != 2 {
		t.Fatalf("next requests=%v", got)
	}
	if got := testutil.ToFloat64(m.duplicateStops); got != 1 {
		t.Fatalf("duplicate stops=%v", got)
	}
	if got := testutil.ToFloat64(m.steps); got != 3 {
		t.Fatalf("steps=%v", got)
	}
	if got := testutil.ToFloat64(m.adapterRSS); got != 4096 {
		t.Fatalf("rss gauge should ignore failed samples, got %v", got)
	}
}

func TestRunMetricsAreIsolated(t *testing.T) {
	testlog.Start(t)
	a := NewRunMetrics("run-a")
	b := NewRunMetrics("run-b")
	a.ObserveStop(false)
	if got := testutil.ToFloat64(b.stops); got != 0 {
		t.Fatalf("runs share collectors: %v", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	testlog.Start(t)
	m := NewRunMetrics("run-file")
	m.ObserveStep(5, 100)
	path := filepath.Join(t.TempDir(), "steploop.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `steploop_steps_completed{run_id="run-file"} 5`) {
		t.Fatalf("textfile missing gauge:\n%s", data)
	}
}
