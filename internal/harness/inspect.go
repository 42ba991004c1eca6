package harness

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-dap"

	logs "github.com/danmuck/steploop/internal/logging"
	"github.com/danmuck/steploop/internal/protocol"
)

// ScopeAction is what the sweep did with one scope.
type ScopeAction string

const (
	ScopeVariables       ScopeAction = "variables"
	ScopeEvaluated       ScopeAction = "evaluate"
	ScopeSkippedRegister ScopeAction = "skipped_register"
	ScopeSkippedCap      ScopeAction = "skipped_cap"
	ScopeSkippedRef      ScopeAction = "skipped_ref"
	ScopeTolerated       ScopeAction = "tolerated_failure"
)

// ScopeVisit records one scope of an inspection sweep.
type ScopeVisit struct {
	Name      string
	Reference int
	Action    ScopeAction
	Variables int
}

// InspectionResult describes one sweep at a stop.
type InspectionResult struct {
	Step     int
	ThreadID int
	FrameID  int
	Threads  int
	Frames   int
	Scopes   []ScopeVisit
	// Loaded counts successful variables loads; the scope cap applies to it.
	Loaded    int
	Evaluated int
	Tolerated int
}

type variablesBody struct {
	Variables []json.RawMessage `json:"variables"`
}

// inspect queries threads, the top of the call stack, its scopes and their
// variables the way an IDE refreshes its panes after a stop.
func (s *Session) inspect(step int) (InspectionResult, error) {
	res := InspectionResult{Step: step}
	where := fmt.Sprintf("step %d", step)

	resp, err := s.require("threads", nil, where)
	if err != nil {
		return res, err
	}
	var threads dap.ThreadsResponseBody
	if err := resp.DecodeBody(&threads); err != nil {
		return res, err
	}
	res.Threads = len(threads.Threads)
	if len(threads.Threads) > 0 && s.ActiveThread() <= 0 {
		s.setActiveThread(threads.Threads[0].Id)
	}
	res.ThreadID = s.ActiveThread()

	resp, err = s.require("stackTrace", dap.StackTraceArguments{
		ThreadId:   res.ThreadID,
		StartFrame: 0,
		Levels:     stackTraceLevels,
	}, where)
	if err != nil {
		return res, err
	}
	var stack dap.StackTraceResponseBody
	if err := resp.DecodeBody(&stack); err != nil {
		return res, err
	}
	res.Frames = len(stack.StackFrames)
	if res.Frames == 0 {
		return res, fmt.Errorf("%w: no stack frames at %s", protocol.ErrProtocol, where)
	}
	res.FrameID = stack.StackFrames[0].Id

	resp, err = s.require("scopes", dap.ScopesArguments{FrameId: res.FrameID}, where)
	if err != nil {
		return res, err
	}
	var scopes dap.ScopesResponseBody
	if err := resp.DecodeBody(&scopes); err != nil {
		return res, err
	}
	if s.cfg.Verbose {
		for _, sc := range scopes.Scopes {
			logs.Debugf("harness.Session.inspect scope name=%s ref=%d expensive=%t", sc.Name, sc.VariablesReference, sc.Expensive)
		}
	}

	for _, scope := range orderScopes(scopes.Scopes, s.cfg.PreferScope) {
		visit, err := s.visitScope(scope, res.FrameID, res.Loaded, where)
		if err != nil {
			return res, err
		}
		switch visit.Action {
		case ScopeVariables:
			res.Loaded++
		case ScopeEvaluated:
			res.Evaluated++
		case ScopeTolerated:
			res.Tolerated++
		}
		res.Scopes = append(res.Scopes, visit)
	}
	if res.Tolerated > 0 {
		s.update(func(st *RunStats) { st.ToleratedFailures += res.Tolerated })
	}
	return res, nil
}

func (s *Session) visitScope(scope dap.Scope, frameID, loaded int, where string) (ScopeVisit, error) {
	visit := ScopeVisit{Name: scope.Name, Reference: scope.VariablesReference}
	name := strings.ToLower(scope.Name)

	if strings.Contains(name, "register") && !s.cfg.IncludeRegisters {
		visit.Action = ScopeSkippedRegister
		return visit, nil
	}
	if s.cfg.LocalsViaEvaluate && strings.Contains(name, "local") {
		resp, err := s.call("evaluate", dap.EvaluateArguments{
			Expression: localsExpression,
			FrameId:    frameID,
			Context:    localsContext,
		})
		if err != nil {
			return visit, fmt.Errorf("%w at %s", err, where)
		}
		if !resp.Success {
			return s.tolerate(visit, resp, "locals evaluate", where)
		}
		visit.Action = ScopeEvaluated
		return visit, nil
	}
	if s.cfg.MaxScopeLoads > 0 && loaded >= s.cfg.MaxScopeLoads {
		visit.Action = ScopeSkippedCap
		return visit, nil
	}
	if scope.VariablesReference <= 0 {
		visit.Action = ScopeSkippedRef
		return visit, nil
	}

	resp, err := s.call("variables", dap.VariablesArguments{
		VariablesReference: scope.VariablesReference,
		Filter:             s.cfg.VariablesFilter,
		Count:              s.cfg.VariablesCount,
	})
	if err != nil {
		return visit, fmt.Errorf("%w at %s", err, where)
	}
	if !resp.Success {
		return s.tolerate(visit, resp, "variables", where)
	}
	var body variablesBody
	if err := resp.DecodeBody(&body); err != nil {
		return visit, err
	}
	visit.Action = ScopeVariables
	visit.Variables = len(body.Variables)
	return visit, nil
}

// tolerate turns a failed variables/evaluate response into a skipped scope
// when failures are tolerated, and into the session error otherwise.
func (s *Session) tolerate(visit ScopeVisit, resp protocol.Message, what, where string) (ScopeVisit, error) {
	err := protocol.RequireSuccess(resp)
	if !s.cfg.IgnoreVariablesErrors {
		return visit, fmt.Errorf("%w at %s", err, where)
	}
	logs.Warnf("harness.Session.inspect %s failed and ignored scope=%s at %s: %v", what, visit.Name, where, err)
	visit.Action = ScopeTolerated
	return visit, nil
}

// orderScopes moves scopes whose name contains prefer (case-insensitive)
// first, keeping the adapter's order otherwise.
func orderScopes(scopes []dap.Scope, prefer string) []dap.Scope {
	out := append([]dap.Scope(nil), scopes...)
	prefer = strings.ToLower(prefer)
	if prefer == "" {
		return out
	}
	rank := func(sc dap.Scope) int {
		if strings.Contains(strings.ToLower(sc.Name), prefer) {
			return 0
		}
		return 1
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i]) < rank(out[j])
	})
	return out
}
