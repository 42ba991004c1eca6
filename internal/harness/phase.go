package harness

import (
	"errors"
	"fmt"
)

var ErrPhaseOrder = errors.New("harness: invalid phase transition")

// Phase is one state of the session machine.
type Phase string

const (
	PhaseStart             Phase = "start"
	PhaseInitialized       Phase = "initialized"
	PhaseBreakpoints       Phase = "breakpoints"
	PhaseLaunched          Phase = "launched"
	PhaseConfigured        Phase = "configured"
	PhaseAwaitingFirstStop Phase = "awaiting_first_stop"
	PhaseFirstStop         Phase = "first_stop"
	PhaseInspecting        Phase = "inspecting"
	PhaseStepping          Phase = "stepping"
	PhaseIdle              Phase = "idle"
	PhaseTeardown          Phase = "teardown"
	PhaseDone              Phase = "done"
	PhaseFailed            Phase = "failed"
)

var phaseEdges = map[Phase][]Phase{
	PhaseStart:             {PhaseInitialized},
	PhaseInitialized:       {PhaseBreakpoints, PhaseLaunched},
	PhaseBreakpoints:       {PhaseLaunched, PhaseConfigured, PhaseAwaitingFirstStop},
	PhaseLaunched:          {PhaseBreakpoints, PhaseConfigured, PhaseAwaitingFirstStop},
	PhaseConfigured:        {PhaseAwaitingFirstStop},
	PhaseAwaitingFirstStop: {PhaseFirstStop},
	PhaseFirstStop:         {PhaseInspecting, PhaseStepping},
	PhaseInspecting:        {PhaseStepping},
	PhaseStepping:          {PhaseIdle, PhaseTeardown},
	PhaseIdle:              {PhaseTeardown},
	PhaseTeardown:          {PhaseDone, PhaseFailed},
}

// Terminal reports whether no further transitions exist.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// canTransition allows the listed edges plus an abort from any live phase
// straight into teardown.
func canTransition(from, to Phase) bool {
	if to == PhaseTeardown && !from.Terminal() && from != PhaseTeardown {
		return true
	}
	for _, next := range phaseEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError(from, to Phase) error {
	return fmt.Errorf("%w: %s -> %s", ErrPhaseOrder, from, to)
}
