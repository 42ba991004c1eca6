package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/danmuck/steploop/internal/config"
	"github.com/danmuck/steploop/internal/guard"
	logs "github.com/danmuck/steploop/internal/logging"
	"github.com/danmuck/steploop/internal/protocol"
	"github.com/danmuck/steploop/internal/protocol/session"
	"github.com/danmuck/steploop/internal/supervisor"
)

var ErrInterrupted = guard.ErrInterrupted

const (
	// firstStopFloor is the minimum wait for each stop while awaiting the
	// first breakpoint; program startup is slower than a step.
	firstStopFloor   = 8 * time.Second
	idlePump         = 200 * time.Millisecond
	disconnectWait   = time.Second
	progressEvery    = 25
	stackTraceLevels = 64
	localsExpression = `interpreter-exec console "info locals"`
	localsContext    = "repl"
	clientID         = "steploop"
	clientName       = "StepLoop"
	adapterID        = "gdb"
	pathFormat       = "path"
)

// Adapter is the supervised adapter process as seen by a session.
type Adapter interface {
	Exited() (int, bool)
	SampleRSSKB() int64
	StderrTail() string
	Teardown(disconnect func() error) supervisor.TeardownReport
}

// launchArguments is gdb's launch request shape.
type launchArguments struct {
	Program                         string   `json:"program"`
	Cwd                             string   `json:"cwd"`
	Args                            []string `json:"args"`
	StopOnEntry                     bool     `json:"stopOnEntry"`
	StopAtBeginningOfMainSubprogram bool     `json:"stopAtBeginningOfMainSubprogram"`
}

// Session runs one stress session. Create it with NewSession and call Run
// once.
type Session struct {
	cfg     config.SessionConfig
	conn    *session.Conn
	adapter Adapter
	clock   *guard.Clock
	obs     Observer
	runID   string
	now     func() time.Time

	mu           sync.Mutex
	phase        Phase
	stats        RunStats
	activeThread int
	started      time.Time

	armed              bool
	supportsConfigDone bool
	stops              fingerprintTracker
	ran                bool
}

type Option func(*Session)

func WithObserver(obs Observer) Option {
	return func(s *Session) {
		if obs != nil {
			s.obs = obs
		}
	}
}

func WithRunID(id string) Option {
	return func(s *Session) {
		s.runID = id
	}
}

// NewSession binds a resolved configuration to a live connection, the
// adapter process behind it and an armed guard clock.
func NewSession(cfg config.SessionConfig, conn *session.Conn, adapter Adapter, clock *guard.Clock, opts ...Option) *Session {
	s := &Session{
		cfg:     cfg,
		conn:    conn,
		adapter: adapter,
		clock:   clock,
		obs:     nopObserver{},
		now:     time.Now,
		phase:   PhaseStart,
	}
	s.stats.PeakRSSKB = -1
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = guard.New(cfg.SessionTimeout, cfg.MaxRSSKB, adapter.SampleRSSKB)
	}
	return s
}

// Run drives the phase machine, always tears the adapter down exactly once,
// and returns the summary together with the error that ended the run.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	if s.ran {
		return Summary{}, fmt.Errorf("%w: session already ran", ErrPhaseOrder)
	}
	s.ran = true
	s.mu.Lock()
	s.started = s.now()
	s.mu.Unlock()

	runErr := s.drive(ctx)
	lastPhase := s.Phase()
	if runErr != nil {
		logs.Errf("harness.Session.Run phase=%s err=%v", lastPhase, runErr)
	}

	if err := s.transition(PhaseTeardown); err != nil {
		logs.Warnf("harness.Session.Run %v", err)
		s.forcePhase(PhaseTeardown)
	}
	teardown := s.adapter.Teardown(s.disconnect)

	final := PhaseDone
	if runErr != nil {
		final = PhaseFailed
	}
	s.forcePhase(final)
	return s.summary(runErr, lastPhase, teardown), runErr
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Snapshot is safe to call from other goroutines.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		RunID:        s.runID,
		Phase:        s.phase,
		ActiveThread: s.activeThread,
		Stats:        s.stats,
	}
	st.Stats.PeakRSSKB = s.clock.PeakRSSKB()
	if !s.started.IsZero() {
		st.Elapsed = s.now().Sub(s.started)
	}
	return st
}

func (s *Session) drive(ctx context.Context) error {
	if err := s.checkpoint(ctx, "initialize"); err != nil {
		return err
	}
	if err := s.initialize(); err != nil {
		return err
	}
	if s.cfg.LaunchOrder == config.BreakpointsBeforeLaunch {
		if err := s.armBreakpoints(); err != nil {
			return err
		}
	}
	if err := s.launch(); err != nil {
		return err
	}
	if s.cfg.LaunchOrder == config.BreakpointsAfterLaunch {
		if err := s.armBreakpoints(); err != nil {
			return err
		}
	}
	if err := s.configurationDone(); err != nil {
		return err
	}
	if err := s.awaitFirstStop(ctx); err != nil {
		return err
	}
	if s.cfg.InspectFirstStop && s.cfg.Inspects() {
		if err := s.transition(PhaseInspecting); err != nil {
			return err
		}
		if _, err := s.inspect(0); err != nil {
			return err
		}
	}
	if err := s.stepLoop(ctx); err != nil {
		return err
	}
	return s.idle(ctx)
}

func (s *Session) initialize() error {
	resp, err := s.require("initialize", dap.InitializeRequestArguments{
		ClientID:                     clientID,
		ClientName:                   clientName,
		AdapterID:                    adapterID,
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		PathFormat:                   pathFormat,
		SupportsVariableType:         true,
		SupportsVariablePaging:       true,
		SupportsRunInTerminalRequest: false,
		SupportsMemoryReferences:     true,
	}, "")
	if err != nil {
		return err
	}
	var caps dap.Capabilities
	if err := resp.DecodeBody(&caps); err != nil {
		return err
	}
	s.supportsConfigDone = caps.SupportsConfigurationDoneRequest
	if err := s.transition(PhaseInitialized); err != nil {
		return err
	}
	seen, err := s.awaitInitialized()
	if err != nil {
		return err
	}
	if !seen {
		logs.Warnf("harness.Session.initialize initialized event not observed within %s", s.cfg.Timeout)
	}
	return nil
}

// awaitInitialized is best-effort: adapters may omit or delay the event, so
// a timeout is reported as seen=false. Stream failures still propagate.
func (s *Session) awaitInitialized() (seen bool, err error) {
	if _, err := s.conn.WaitEvent("initialized", s.cfg.Timeout, nil); err != nil {
		if errors.Is(err, protocol.ErrTimeout) {
			return false, nil
		}
		return false, err
	}
	s.countEvent("initialized")
	return true, nil
}

func (s *Session) armBreakpoints() error {
	if s.armed {
		return fmt.Errorf("%w: breakpoints already armed", ErrPhaseOrder)
	}
	if err := s.transition(PhaseBreakpoints); err != nil {
		return err
	}
	_, err := s.require("setBreakpoints", dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: s.cfg.Source},
		Breakpoints: []dap.SourceBreakpoint{{Line: s.cfg.BreakLine}},
	}, "")
	if err != nil {
		return err
	}
	s.armed = true
	logs.Debugf("harness.Session.armBreakpoints source=%s line=%d order=%s", s.cfg.Source, s.cfg.BreakLine, s.cfg.LaunchOrder)
	return nil
}

func (s *Session) launch() error {
	args := s.cfg.ProgramArgs
	if args == nil {
		args = []string{}
	}
	_, err := s.require("launch", launchArguments{
		Program:                         s.cfg.Program,
		Cwd:                             s.cfg.Cwd,
		Args:                            args,
		StopOnEntry:                     s.cfg.StopOnEntry,
		StopAtBeginningOfMainSubprogram: s.cfg.StopOnEntry,
	}, "")
	if err != nil {
		return err
	}
	return s.transition(PhaseLaunched)
}

func (s *Session) configurationDone() error {
	if !s.supportsConfigDone {
		logs.Debugf("harness.Session.configurationDone adapter did not advertise configurationDone support")
		return nil
	}
	if _, err := s.require("configurationDone", nil, ""); err != nil {
		return err
	}
	return s.transition(PhaseConfigured)
}

// awaitFirstStop skips entry stops until a breakpoint, step or pause stop.
func (s *Session) awaitFirstStop(ctx context.Context) error {
	if err := s.transition(PhaseAwaitingFirstStop); err != nil {
		return err
	}
	wait := s.cfg.Timeout
	if wait < firstStopFloor {
		wait = firstStopFloor
	}
	for {
		if err := s.checkpoint(ctx, "waiting first stop"); err != nil {
			return err
		}
		body, err := s.waitStop(wait)
		if err != nil {
			return err
		}
		switch body.Reason {
		case "entry":
			s.setActiveThread(body.ThreadId)
			if _, err := s.require("continue", dap.ContinueArguments{ThreadId: s.ActiveThread()}, "after entry"); err != nil {
				return err
			}
			continue
		case "breakpoint", "step", "pause":
			s.setActiveThread(body.ThreadId)
			logs.Infof("harness.Session first stop: %s", FingerprintOf(body))
			return s.transition(PhaseFirstStop)
		default:
			logs.Debugf("harness.Session.awaitFirstStop ignoring stop reason=%q", body.Reason)
		}
	}
}

func (s *Session) stepLoop(ctx context.Context) error {
	if err := s.transition(PhaseStepping); err != nil {
		return err
	}
	for i := 1; i <= s.cfg.Steps; i++ {
		if err := s.checkpoint(ctx, fmt.Sprintf("step %d pre", i)); err != nil {
			return err
		}
		where := fmt.Sprintf("step %d", i)
		if _, err := s.require("next", dap.NextArguments{ThreadId: s.ActiveThread()}, where); err != nil {
			return err
		}
		body, err := s.waitStop(s.cfg.Timeout)
		if err != nil {
			return fmt.Errorf("%w at %s", err, where)
		}
		s.setActiveThread(body.ThreadId)
		dup := s.stops.observe(FingerprintOf(body))
		if dup {
			s.update(func(st *RunStats) { st.DuplicateStops++ })
		}
		s.obs.ObserveStop(dup)

		if s.cfg.Inspects() {
			if _, err := s.inspect(i); err != nil {
				return err
			}
		}
		if err := s.checkpoint(ctx, fmt.Sprintf("step %d post", i)); err != nil {
			return err
		}
		s.update(func(st *RunStats) { st.StepsCompleted = i })

		rss := s.clock.PeakRSSKB()
		if i == 1 || i%progressEvery == 0 {
			rss = s.clock.Sample()
			st := s.Snapshot().Stats
			logs.Infof(
				"harness.Session.step i=%d adapter_rss_kb=%d req=%d evt=%d dup_stops=%d",
				i, rss, st.Requests, st.Events, st.DuplicateStops,
			)
		}
		s.obs.ObserveStep(i, rss)
	}
	return nil
}

// idle keeps the session open and counts events nobody waited for.
func (s *Session) idle(ctx context.Context) error {
	if s.cfg.IdleAfterSteps <= 0 {
		return nil
	}
	if err := s.transition(PhaseIdle); err != nil {
		return err
	}
	deadline := s.now().Add(s.cfg.IdleAfterSteps)
	for s.now().Before(deadline) {
		if err := s.checkpoint(ctx, "idle-after-steps"); err != nil {
			return err
		}
		msg, ok, err := s.conn.Pump(idlePump)
		if err != nil {
			return err
		}
		if ok && msg.Kind == protocol.KindEvent {
			s.update(func(st *RunStats) { st.SpontaneousEvents++ })
			s.obs.ObserveEvent(msg.Event)
		}
	}
	logs.Infof("harness.Session.idle idle_after_steps=%s spontaneous_events=%d", s.cfg.IdleAfterSteps, s.Snapshot().Stats.SpontaneousEvents)
	return nil
}

// disconnect is the polite first teardown stage.
func (s *Session) disconnect() error {
	seq, err := s.conn.Send("disconnect", dap.DisconnectArguments{TerminateDebuggee: true})
	if err != nil {
		return err
	}
	s.update(func(st *RunStats) { st.Requests++ })
	_, err = s.conn.WaitResponse(seq, disconnectWait)
	return err
}

// call sends one request and waits for its response.
func (s *Session) call(command string, args any) (protocol.Message, error) {
	start := s.now()
	seq, err := s.conn.Send(command, args)
	if err != nil {
		return protocol.Message{}, err
	}
	s.update(func(st *RunStats) { st.Requests++ })
	resp, err := s.conn.WaitResponse(seq, s.cfg.Timeout)
	s.obs.ObserveRequest(command, s.now().Sub(start), err == nil && resp.Success)
	return resp, err
}

// require is call plus a successful response.
func (s *Session) require(command string, args any, where string) (protocol.Message, error) {
	resp, err := s.call(command, args)
	if err == nil {
		err = protocol.RequireSuccess(resp)
	}
	if err != nil && where != "" {
		return resp, fmt.Errorf("%w at %s", err, where)
	}
	return resp, err
}

func (s *Session) waitStop(timeout time.Duration) (dap.StoppedEventBody, error) {
	ev, err := s.conn.WaitEvent("stopped", timeout, nil)
	if err != nil {
		return dap.StoppedEventBody{}, err
	}
	s.countEvent("stopped")
	s.update(func(st *RunStats) { st.Stops++ })
	var body dap.StoppedEventBody
	if err := ev.DecodeBody(&body); err != nil {
		return dap.StoppedEventBody{}, err
	}
	return body, nil
}

func (s *Session) countEvent(name string) {
	s.update(func(st *RunStats) { st.Events++ })
	s.obs.ObserveEvent(name)
}

// checkpoint is a guard point.
func (s *Session) checkpoint(ctx context.Context, where string) error {
	return s.clock.Check(ctx, where)
}

// ActiveThread is the thread steps and inspections target.
func (s *Session) ActiveThread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeThread
}

// setActiveThread ignores ids <= 0 so a stop without a thread keeps the
// previous target.
func (s *Session) setActiveThread(id int) {
	if id <= 0 {
		return
	}
	s.mu.Lock()
	s.activeThread = id
	s.mu.Unlock()
}

func (s *Session) update(fn func(*RunStats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

func (s *Session) transition(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.phase, to) {
		return transitionError(s.phase, to)
	}
	s.phase = to
	s.obs.ObservePhase(string(to))
	return nil
}

func (s *Session) forcePhase(to Phase) {
	s.mu.Lock()
	s.phase = to
	s.mu.Unlock()
	s.obs.ObservePhase(string(to))
}

func (s *Session) summary(runErr error, lastPhase Phase, teardown supervisor.TeardownReport) Summary {
	st := s.Snapshot()
	st.Stats.DuplicateResponses = s.conn.Counters().DuplicateResponses
	sum := Summary{
		RunID:    s.runID,
		Mode:     string(s.cfg.Mode),
		Steps:    s.cfg.Steps,
		Stats:    st.Stats,
		Started:  s.started,
		Duration: st.Elapsed,
		Outcome:  OutcomePassed,
		Teardown: teardown,
	}
	if runErr != nil {
		sum.Outcome = OutcomeFailed
		sum.FailedPhase = lastPhase
		sum.Error = runErr.Error()
		sum.StderrTail = s.adapter.StderrTail()
	}
	return sum
}

// IsInterrupted reports whether err came from cancellation at a guard point.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}
