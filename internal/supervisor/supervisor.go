package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/steploop/internal/logging"
)

var ErrSpawn = errors.New("supervisor: spawn failed")

// Spec describes the adapter command line.
type Spec struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (s Spec) String() string {
	return strings.TrimSpace(s.Path + " " + strings.Join(s.Args, " "))
}

// Options bounds the teardown waits and stderr retention.
type Options struct {
	TermWait   time.Duration
	KillWait   time.Duration
	WaitDelay  time.Duration
	StderrTail int
}

func DefaultOptions() Options {
	return Options{
		TermWait:   1500 * time.Millisecond,
		KillWait:   time.Second,
		WaitDelay:  time.Second,
		StderrTail: 16 * 1024,
	}
}

// Supervisor tracks one spawned adapter process.
type Supervisor struct {
	spec   Spec
	opts   Options
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *tailBuffer
	done   chan struct{}

	mu       sync.Mutex
	exitCode int
	exitErr  error

	teardownOnce sync.Once
	report       TeardownReport
}

// Spawn starts the adapter. The parent keeps the write end of stdin and the
// read end of stdout; both are *os.File so reads accept deadlines.
func Spawn(ctx context.Context, spec Spec, opts Options) (*Supervisor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Path == "" {
		return nil, fmt.Errorf("%w: empty command", ErrSpawn)
	}
	opts = opts.normalized()

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	s := &Supervisor{
		spec:   spec,
		opts:   opts,
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: newTailBuffer(opts.StderrTail),
		done:   make(chan struct{}),
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = s.stderr
	cmd.WaitDelay = opts.WaitDelay
	configureProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, stdoutR, stdoutW} {
			_ = f.Close()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, spec, err)
	}
	// child ends belong to the adapter now
	_ = stdinR.Close()
	_ = stdoutW.Close()

	logs.Infof("supervisor.Spawn pid=%d cmd=%q", cmd.Process.Pid, spec.String())
	go s.reap()
	return s, nil
}

func (s *Supervisor) reap() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	s.mu.Lock()
	s.exitCode = code
	s.exitErr = err
	s.mu.Unlock()
	close(s.done)
	logs.Debugf("supervisor.reap pid=%d code=%d err=%v", s.PID(), code, err)
}

// Stdin is the adapter's request stream.
func (s *Supervisor) Stdin() *os.File {
	return s.stdin
}

// Stdout is the adapter's message stream.
func (s *Supervisor) Stdout() *os.File {
	return s.stdout
}

func (s *Supervisor) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Done is closed once the process has been reaped.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Exited reports the exit code without blocking. A signal-terminated
// process reports -1.
func (s *Supervisor) Exited() (int, bool) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.exitCode, true
	default:
		return 0, false
	}
}

// StderrTail returns the retained end of the adapter's stderr.
func (s *Supervisor) StderrTail() string {
	return s.stderr.String()
}

// SampleRSSKB reads the adapter's resident set size, or -1.
func (s *Supervisor) SampleRSSKB() int64 {
	if _, exited := s.Exited(); exited {
		return -1
	}
	return ReadRSSKB(s.PID())
}

func (s *Supervisor) waitExit(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.TermWait <= 0 {
		o.TermWait = def.TermWait
	}
	if o.KillWait <= 0 {
		o.KillWait = def.KillWait
	}
	if o.WaitDelay <= 0 {
		o.WaitDelay = def.WaitDelay
	}
	if o.StderrTail <= 0 {
		o.StderrTail = def.StderrTail
	}
	return o
}
