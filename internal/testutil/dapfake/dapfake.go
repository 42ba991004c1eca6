// Package dapfake is a scriptable in-process debug adapter for tests. It
// speaks the framed wire protocol over OS pipes and records every request.
package dapfake

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/steploop/internal/protocol/frame"
	"github.com/danmuck/steploop/internal/protocol/session"
	"github.com/danmuck/steploop/internal/supervisor"
)

// Request is one request received by the fake.
type Request struct {
	Seq       int
	Command   string
	Arguments json.RawMessage
}

// Decode unmarshals the request arguments into out.
func (r Request) Decode(out any) error {
	if len(r.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(r.Arguments, out)
}

// Handler answers one request. It runs on the fake's reader goroutine.
type Handler func(a *Adapter, req Request)

// Adapter is the fake. It also satisfies the harness view of a supervised
// process.
type Adapter struct {
	t *testing.T

	reqR, reqW   *os.File
	respR, respW *os.File

	writeMu sync.Mutex
	seq     int

	mu        sync.Mutex
	handlers  map[string]Handler
	requests  []Request
	teardowns int

	exited   atomic.Bool
	exitCode atomic.Int64
	rss      atomic.Int64
	done     chan struct{}
}

// New starts a fake whose unknown commands get a successful empty response.
func New(t *testing.T) *Adapter {
	t.Helper()
	reqR, reqW, err := os.Pipe()
	if err != nil {
		t.Fatalf("dapfake: pipe: %v", err)
	}
	respR, respW, err := os.Pipe()
	if err != nil {
		t.Fatalf("dapfake: pipe: %v", err)
	}
	a := &Adapter{
		t:        t,
		reqR:     reqR,
		reqW:     reqW,
		respR:    respR,
		respW:    respW,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	a.rss.Store(1024)
	go a.serve()
	t.Cleanup(a.close)
	return a
}

// Conn returns a connection reading the fake's output and writing its input.
func (a *Adapter) Conn(opts ...session.Option) *session.Conn {
	cfg := session.DefaultConfig()
	cfg.PumpSlice = 20 * time.Millisecond
	opts = append([]session.Option{session.WithExitProbe(a.Exited)}, opts...)
	return session.NewConn(a.respR, a.reqW, cfg, opts...)
}

// Handle installs h for command, replacing any previous handler.
func (a *Adapter) Handle(command string, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[command] = h
}

// Reply answers req.
func (a *Adapter) Reply(req Request, success bool, message string, body any) {
	msg := map[string]any{
		"type":        "response",
		"request_seq": req.Seq,
		"command":     req.Command,
		"success":     success,
	}
	if message != "" {
		msg["message"] = message
	}
	if body != nil {
		msg["body"] = body
	}
	a.send(msg)
}

// OK answers req successfully.
func (a *Adapter) OK(req Request, body any) {
	a.Reply(req, true, "", body)
}

// Emit sends an event.
func (a *Adapter) Emit(event string, body any) {
	msg := map[string]any{
		"type":  "event",
		"event": event,
	}
	if body != nil {
		msg["body"] = body
	}
	a.send(msg)
}

// WriteRaw writes bytes to the adapter output unframed.
func (a *Adapter) WriteRaw(b []byte) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, _ = a.respW.Write(b)
}

// Requests returns every request received so far.
func (a *Adapter) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Request(nil), a.requests...)
}

// Commands returns the command names received so far, in order.
func (a *Adapter) Commands() []string {
	reqs := a.Requests()
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Command)
	}
	return out
}

// Count returns how many times command was received.
func (a *Adapter) Count(command string) int {
	n := 0
	for _, r := range a.Requests() {
		if r.Command == command {
			n++
		}
	}
	return n
}

// Exit simulates the adapter process exiting.
func (a *Adapter) Exit(code int) {
	a.exitCode.Store(int64(code))
	a.exited.Store(true)
}

func (a *Adapter) Exited() (int, bool) {
	if !a.exited.Load() {
		return 0, false
	}
	return int(a.exitCode.Load()), true
}

// SetRSS sets the value SampleRSSKB reports.
func (a *Adapter) SetRSS(kb int64) {
	a.rss.Store(kb)
}

func (a *Adapter) SampleRSSKB() int64 {
	if a.exited.Load() {
		return -1
	}
	return a.rss.Load()
}

func (a *Adapter) StderrTail() string {
	return "dapfake stderr"
}

// Teardowns counts Teardown calls.
func (a *Adapter) Teardowns() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.teardowns
}

// Teardown runs the disconnect stage and then marks the fake exited.
func (a *Adapter) Teardown(disconnect func() error) supervisor.TeardownReport {
	a.mu.Lock()
	a.teardowns++
	a.mu.Unlock()
	var report supervisor.TeardownReport
	if _, exited := a.Exited(); !exited && disconnect != nil {
		report.Stages = append(report.Stages, supervisor.StageDisconnect)
		if err := disconnect(); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}
	if _, exited := a.Exited(); !exited {
		report.Stages = append(report.Stages, supervisor.StageTerminate)
		a.Exit(0)
	}
	report.ExitCode, report.Exited = a.Exited()
	return report
}

func (a *Adapter) send(msg map[string]any) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.seq++
	msg["seq"] = a.seq
	payload, err := json.Marshal(msg)
	if err != nil {
		a.t.Errorf("dapfake: marshal: %v", err)
		return
	}
	_ = frame.Write(a.respW, payload)
}

func (a *Adapter) serve() {
	defer close(a.done)
	framer := frame.NewFramer()
	buf := make([]byte, 4096)
	for {
		n, err := a.reqR.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
			for _, payload := range framer.Drain() {
				a.dispatch(payload)
			}
		}
		if err != nil {
			return
		}
	}
}

func (a *Adapter) dispatch(payload []byte) {
	var wire struct {
		Seq       int             `json:"seq"`
		Type      string          `json:"type"`
		Command   string          `json:"command"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil || wire.Type != "request" {
		return
	}
	req := Request{Seq: wire.Seq, Command: wire.Command, Arguments: wire.Arguments}
	a.mu.Lock()
	a.requests = append(a.requests, req)
	h := a.handlers[req.Command]
	a.mu.Unlock()
	if h == nil {
		a.OK(req, nil)
		return
	}
	h(a, req)
}

func (a *Adapter) close() {
	_ = a.reqW.Close()
	<-a.done
	_ = a.reqR.Close()
	_ = a.respW.Close()
	_ = a.respR.Close()
}
