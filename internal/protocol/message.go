package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind classifies one decoded protocol message.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
	KindOther    Kind = "other"
)

// NoRequestSeq marks a response that did not name the request it answers.
const NoRequestSeq = -1

// Message is one decoded protocol message. Only the fields that belong to
// Kind are meaningful.
type Message struct {
	Kind Kind
	Seq  int

	// request
	Command   string
	Arguments json.RawMessage

	// response
	RequestSeq int
	Success    bool
	Message    string

	// event
	Event string

	Body json.RawMessage
	Raw  json.RawMessage
}

type wireMessage struct {
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command"`
	Arguments  json.RawMessage `json:"arguments"`
	RequestSeq *int            `json:"request_seq"`
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Event      string          `json:"event"`
	Body       json.RawMessage `json:"body"`
}

// Decode parses one frame payload. Anything that is a JSON object decodes;
// unknown or missing type values classify as KindOther.
func Decode(payload []byte) (Message, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, ErrNotJSON
	}
	var w wireMessage
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Message{}, fmt.Errorf("protocol: decode: %w", err)
	}

	msg := Message{
		Seq:        w.Seq,
		Command:    w.Command,
		Arguments:  w.Arguments,
		RequestSeq: NoRequestSeq,
		Success:    w.Success,
		Message:    w.Message,
		Event:      w.Event,
		Body:       w.Body,
		Raw:        append(json.RawMessage(nil), trimmed...),
	}
	if w.RequestSeq != nil {
		msg.RequestSeq = *w.RequestSeq
	}
	switch w.Type {
	case "request":
		msg.Kind = KindRequest
	case "response":
		msg.Kind = KindResponse
	case "event":
		msg.Kind = KindEvent
	default:
		msg.Kind = KindOther
	}
	return msg, nil
}

// DecodeBody unmarshals the message body into out. A missing or null body
// leaves out untouched.
func (m Message) DecodeBody(out any) error {
	body := bytes.TrimSpace(m.Body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s body: %v", ErrProtocol, m.name(), err)
	}
	return nil
}

func (m Message) name() string {
	if m.Kind == KindEvent {
		return m.Event
	}
	return m.Command
}

// Request is the outgoing request envelope.
type Request struct {
	Seq       int    `json:"seq"`
	Type      string `json:"type"`
	Command   string `json:"command"`
	Arguments any    `json:"arguments,omitempty"`
}

// EncodeRequest builds the JSON payload for one request.
func EncodeRequest(seq int, command string, arguments any) ([]byte, error) {
	payload, err := json.Marshal(Request{
		Seq:       seq,
		Type:      string(KindRequest),
		Command:   command,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", command, err)
	}
	return payload, nil
}
