package harness

import (
	"fmt"

	"github.com/google/go-dap"
)

// StopFingerprint identifies a stop notification for adjacent duplicate
// detection only.
type StopFingerprint struct {
	Reason            string
	ThreadID          int
	AllThreadsStopped bool
	Description       string
	Text              string
}

func FingerprintOf(body dap.StoppedEventBody) StopFingerprint {
	return StopFingerprint{
		Reason:            body.Reason,
		ThreadID:          body.ThreadId,
		AllThreadsStopped: body.AllThreadsStopped,
		Description:       body.Description,
		Text:              body.Text,
	}
}

func (f StopFingerprint) String() string {
	return fmt.Sprintf("reason=%s thread=%d allThreadsStopped=%t desc=%s", f.Reason, f.ThreadID, f.AllThreadsStopped, f.Description)
}

// fingerprintTracker counts stops equal to the one immediately before.
type fingerprintTracker struct {
	prev *StopFingerprint
}

// observe records fp and reports whether it repeats the previous stop.
func (t *fingerprintTracker) observe(fp StopFingerprint) bool {
	dup := t.prev != nil && *t.prev == fp
	t.prev = &fp
	return dup
}
