package session

import (
	"github.com/danmuck/steploop/internal/protocol"
	logs "github.com/danmuck/steploop/internal/logging"
)

// RouterStats counts classified messages.
type RouterStats struct {
	Responses          int
	Events             int
	Other              int
	DuplicateResponses int
}

// Router files decoded messages: responses by request seq, events in
// arrival order, everything else into an overflow queue kept for
// diagnostics. It is owned by one Conn and is not safe for concurrent use.
type Router struct {
	responses map[int]protocol.Message
	events    []protocol.Message
	overflow  []protocol.Message
	verbose   bool
	stats     RouterStats
}

func NewRouter(verbose bool) *Router {
	return &Router{
		responses: make(map[int]protocol.Message),
		verbose:   verbose,
	}
}

// Route classifies msg and files it.
func (r *Router) Route(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindResponse:
		if msg.RequestSeq < 0 {
			r.overflow = append(r.overflow, msg)
			r.stats.Other++
			r.echo(msg)
			return
		}
		if _, dup := r.responses[msg.RequestSeq]; dup {
			r.stats.DuplicateResponses++
			logs.Warnf("session.Router.Route duplicate response request_seq=%d command=%s", msg.RequestSeq, msg.Command)
		}
		r.responses[msg.RequestSeq] = msg
		r.stats.Responses++
	case protocol.KindEvent:
		r.events = append(r.events, msg)
		r.stats.Events++
	default:
		r.overflow = append(r.overflow, msg)
		r.stats.Other++
	}
	r.echo(msg)
}

// TakeResponse removes and returns the response answering seq.
func (r *Router) TakeResponse(seq int) (protocol.Message, bool) {
	msg, ok := r.responses[seq]
	if ok {
		delete(r.responses, seq)
	}
	return msg, ok
}

// TakeEvent removes the first queued event named name that satisfies match
// (nil matches everything). Events scanned past keep their order.
func (r *Router) TakeEvent(name string, match func(protocol.Message) bool) (protocol.Message, bool) {
	for i, msg := range r.events {
		if msg.Event != name {
			continue
		}
		if match != nil && !match(msg) {
			continue
		}
		r.events = append(r.events[:i], r.events[i+1:]...)
		return msg, true
	}
	return protocol.Message{}, false
}

func (r *Router) PendingResponses() int {
	return len(r.responses)
}

func (r *Router) QueuedEvents() int {
	return len(r.events)
}

// Overflow returns a copy of the diagnostic queue.
func (r *Router) Overflow() []protocol.Message {
	return append([]protocol.Message(nil), r.overflow...)
}

func (r *Router) Stats() RouterStats {
	return r.stats
}

func (r *Router) echo(msg protocol.Message) {
	if !r.verbose {
		return
	}
	switch msg.Kind {
	case protocol.KindResponse:
		logs.Debugf("[dap] response req_seq=%d cmd=%s success=%t", msg.RequestSeq, msg.Command, msg.Success)
	case protocol.KindEvent:
		logs.Debugf("[dap] event %s body=%s", msg.Event, bodyText(msg))
	default:
		logs.Debugf("[dap] other %s", msg.Raw)
	}
}

func bodyText(msg protocol.Message) string {
	if len(msg.Body) == 0 {
		return "{}"
	}
	return string(msg.Body)
}
