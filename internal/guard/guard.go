// Package guard evaluates the session deadline, the adapter memory ceiling,
// and interruption at explicit checkpoints.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/steploop/internal/protocol"
)

var (
	ErrResourceLimit = errors.New("guard: resource limit exceeded")
	// ErrSessionDeadline is also a protocol.ErrTimeout.
	ErrSessionDeadline = fmt.Errorf("%w: session deadline exceeded", protocol.ErrTimeout)
	ErrInterrupted     = errors.New("guard: interrupted")
)

// Sampler returns the adapter RSS in KiB, or a negative sentinel when the
// sample failed.
type Sampler func() int64

// Clock is a polled watchdog. It is owned by the orchestrator goroutine;
// Peak may be read concurrently.
type Clock struct {
	deadline time.Time
	maxRSSKB int64
	sample   Sampler
	now      func() time.Time

	peak   peakValue
	checks int
}

type Option func(*Clock)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		c.now = now
	}
}

// New arms a clock whose deadline is sessionTimeout from now. maxRSSKB <= 0
// disables the memory ceiling; RSS is still sampled for the peak.
func New(sessionTimeout time.Duration, maxRSSKB int64, sample Sampler, opts ...Option) *Clock {
	c := &Clock{
		maxRSSKB: maxRSSKB,
		sample:   sample,
		now:      time.Now,
	}
	c.peak.set(-1)
	for _, opt := range opts {
		opt(c)
	}
	c.deadline = c.now().Add(sessionTimeout)
	return c
}

// Attach sets the RSS source once the adapter is running.
func (c *Clock) Attach(sample Sampler) {
	c.sample = sample
}

// Check evaluates interruption, the session deadline, then the memory
// ceiling. where names the checkpoint in the returned error.
func (c *Clock) Check(ctx context.Context, where string) error {
	c.checks++
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w at %s: %v", ErrInterrupted, where, err)
		}
	}
	if c.now().After(c.deadline) {
		return fmt.Errorf("%w at %s", ErrSessionDeadline, where)
	}
	if c.sample == nil {
		return nil
	}
	rss := c.Sample()
	if c.maxRSSKB > 0 && rss > c.maxRSSKB {
		return fmt.Errorf("%w: adapter rss %dkB over limit %dkB at %s", ErrResourceLimit, rss, c.maxRSSKB, where)
	}
	return nil
}

// Sample takes one RSS reading and folds it into the peak.
func (c *Clock) Sample() int64 {
	if c.sample == nil {
		return -1
	}
	rss := c.sample()
	c.peak.raise(rss)
	return rss
}

// PeakRSSKB is the highest sample seen, or -1.
func (c *Clock) PeakRSSKB() int64 {
	return c.peak.get()
}

func (c *Clock) Deadline() time.Time {
	return c.deadline
}

func (c *Clock) Remaining() time.Duration {
	return c.deadline.Sub(c.now())
}

// Checks counts evaluated checkpoints.
func (c *Clock) Checks() int {
	return c.checks
}
