package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/danmuck/steploop/internal/protocol"
	"github.com/danmuck/steploop/internal/protocol/frame"
	logs "github.com/danmuck/steploop/internal/logging"
)

// Stream is the adapter's output side. *os.File pipes and net.Conn both
// satisfy it.
type Stream interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ExitProbe reports the adapter exit code once the process has exited.
type ExitProbe func() (code int, exited bool)

// Conn is a single-owner debug adapter connection: it issues requests,
// reads and routes frames, and serves bounded waits for responses and
// events. Conn is not safe for concurrent use.
type Conn struct {
	cfg     Config
	in      Stream
	out     *bufio.Writer
	framer  *frame.Framer
	router  *Router
	probe   ExitProbe
	seq     int
	scratch []byte

	undecodable int
}

type Option func(*Conn)

// WithExitProbe makes every pump fail fast once the adapter has exited.
func WithExitProbe(probe ExitProbe) Option {
	return func(c *Conn) {
		c.probe = probe
	}
}

// WithVerbose echoes every routed message at debug level.
func WithVerbose(verbose bool) Option {
	return func(c *Conn) {
		c.router.verbose = verbose
	}
}

func NewConn(in Stream, out io.Writer, cfg Config, opts ...Option) *Conn {
	cfg = cfg.normalized()
	c := &Conn{
		cfg:     cfg,
		in:      in,
		out:     bufio.NewWriter(out),
		framer:  frame.NewFramer(),
		router:  NewRouter(false),
		scratch: make([]byte, cfg.ReadChunk),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send writes one request and returns its seq. Seqs start at 1 and are
// never reused, even when the write fails.
func (c *Conn) Send(command string, arguments any) (int, error) {
	c.seq++
	seq := c.seq
	payload, err := protocol.EncodeRequest(seq, command, arguments)
	if err != nil {
		return seq, fmt.Errorf("%w: %v", protocol.ErrProtocol, err)
	}
	if err := frame.Write(c.out, payload); err != nil {
		return seq, fmt.Errorf("%w: write %s seq=%d: %v", protocol.ErrProtocol, command, seq, err)
	}
	return seq, nil
}

// LastSeq returns the most recently issued request seq.
func (c *Conn) LastSeq() int {
	return c.seq
}

// WaitResponse pumps until the response answering seq arrives or timeout
// elapses. Responses to other requests stay filed for their own waiters.
func (c *Conn) WaitResponse(seq int, timeout time.Duration) (protocol.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		if msg, ok := c.router.TakeResponse(seq); ok {
			return msg, nil
		}
		now := time.Now()
		if !now.Before(deadline) {
			return protocol.Message{}, fmt.Errorf("%w: waiting response request_seq=%d", protocol.ErrTimeout, seq)
		}
		if _, _, err := c.Pump(c.cfg.slice(now, deadline)); err != nil {
			return protocol.Message{}, err
		}
	}
}

// WaitEvent pumps until an event named name satisfying match (nil matches
// all) is queued, then removes and returns it.
func (c *Conn) WaitEvent(name string, timeout time.Duration, match func(protocol.Message) bool) (protocol.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		if msg, ok := c.router.TakeEvent(name, match); ok {
			return msg, nil
		}
		now := time.Now()
		if !now.Before(deadline) {
			return protocol.Message{}, fmt.Errorf("%w: waiting event=%s", protocol.ErrTimeout, name)
		}
		if _, _, err := c.Pump(c.cfg.slice(now, deadline)); err != nil {
			return protocol.Message{}, err
		}
	}
}

// Pump routes at most one message. Already-buffered frames are drained
// before the stream is read again; a read blocks for at most timeout.
// ok is false when the slice elapsed without a complete message.
func (c *Conn) Pump(timeout time.Duration) (msg protocol.Message, ok bool, err error) {
	if c.probe != nil {
		if code, exited := c.probe(); exited {
			return protocol.Message{}, false, fmt.Errorf("%w: adapter exited early with code %d", protocol.ErrProtocol, code)
		}
	}
	if msg, ok := c.nextDecoded(); ok {
		c.router.Route(msg)
		return msg, true, nil
	}

	got, err := c.read(timeout)
	if err != nil || !got {
		return protocol.Message{}, false, err
	}
	if msg, ok := c.nextDecoded(); ok {
		c.router.Route(msg)
		return msg, true, nil
	}
	return protocol.Message{}, false, nil
}

// Counters aggregates routing and framing anomalies for one connection.
type Counters struct {
	RouterStats
	Undecodable int
	Resyncs     int
}

func (c *Conn) Counters() Counters {
	return Counters{
		RouterStats: c.router.Stats(),
		Undecodable: c.undecodable,
		Resyncs:     c.framer.Resyncs(),
	}
}

// Router exposes routing state for diagnostics.
func (c *Conn) Router() *Router {
	return c.router
}

// Undecodable counts framed payloads that were not valid JSON objects.
func (c *Conn) Undecodable() int {
	return c.undecodable
}

// Resyncs counts malformed headers skipped by the framer.
func (c *Conn) Resyncs() int {
	return c.framer.Resyncs()
}

func (c *Conn) nextDecoded() (protocol.Message, bool) {
	for {
		payload, ok := c.framer.Next()
		if !ok {
			return protocol.Message{}, false
		}
		msg, err := protocol.Decode(payload)
		if err != nil {
			c.undecodable++
			logs.Debugf("session.Conn.nextDecoded skip payload bytes=%d err=%v", len(payload), err)
			continue
		}
		return msg, true
	}
}

// read performs one deadline-bounded read into the framer. got is false
// when the deadline passed with no data.
func (c *Conn) read(timeout time.Duration) (got bool, err error) {
	if err := c.in.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, fmt.Errorf("%w: set read deadline: %v", protocol.ErrProtocol, err)
	}
	n, err := c.in.Read(c.scratch)
	if n > 0 {
		c.framer.Feed(c.scratch[:n])
		return true, nil
	}
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, os.ErrClosed):
		if c.framer.HasHeader() {
			return false, fmt.Errorf("%w: adapter stdout closed while waiting payload", protocol.ErrProtocol)
		}
		return false, fmt.Errorf("%w: adapter stdout closed", protocol.ErrProtocol)
	default:
		return false, fmt.Errorf("%w: read: %v", protocol.ErrProtocol, err)
	}
}
