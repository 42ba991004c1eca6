package session

import "time"

// Config defines pump granularity for bounded waits.
type Config struct {
	// PumpSlice caps one blocking read so outer deadlines are rechecked often.
	PumpSlice time.Duration
	// MinPump is the floor for a read slice near a deadline.
	MinPump time.Duration
	// ReadChunk is the size of one stream read.
	ReadChunk int
}

func DefaultConfig() Config {
	return Config{
		PumpSlice: 250 * time.Millisecond,
		MinPump:   10 * time.Millisecond,
		ReadChunk: 64 * 1024,
	}
}

// slice returns the next pump timeout for a wait ending at deadline.
func (c Config) slice(now, deadline time.Time) time.Duration {
	d := deadline.Sub(now)
	if d > c.PumpSlice {
		d = c.PumpSlice
	}
	if d < c.MinPump {
		d = c.MinPump
	}
	return d
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.PumpSlice <= 0 {
		c.PumpSlice = def.PumpSlice
	}
	if c.MinPump <= 0 {
		c.MinPump = def.MinPump
	}
	if c.MinPump > c.PumpSlice {
		c.MinPump = c.PumpSlice
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = def.ReadChunk
	}
	return c
}
