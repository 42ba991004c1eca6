package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/google/go-dap"
)

var headerTerminator = []byte("\r\n\r\n")

var contentLengthKey = []byte("content-length:")

var ErrEmptyPayload = errors.New("frame: empty payload")

// Framer incrementally splits a byte stream into Content-Length framed
// payloads. It never fails: malformed headers are dropped and scanning
// resumes after their terminator.
type Framer struct {
	buf     []byte
	resyncs int
}

func NewFramer() *Framer {
	return &Framer{buf: make([]byte, 0, 64*1024)}
}

// Feed appends raw bytes read from the stream.
func (f *Framer) Feed(chunk []byte) {
	f.buf = append(f.buf, chunk...)
}

// Next extracts the next complete payload. ok is false when more bytes are
// needed; nothing is consumed in that case.
func (f *Framer) Next() (payload []byte, ok bool) {
	for {
		end := bytes.Index(f.buf, headerTerminator)
		if end < 0 {
			return nil, false
		}
		n := ContentLength(f.buf[:end])
		if n <= 0 {
			f.consume(end + len(headerTerminator))
			f.resyncs++
			continue
		}
		start := end + len(headerTerminator)
		if len(f.buf)-start < n {
			return nil, false
		}
		payload = make([]byte, n)
		copy(payload, f.buf[start:start+n])
		f.consume(start + n)
		return payload, true
	}
}

// Drain extracts every complete payload currently buffered.
func (f *Framer) Drain() [][]byte {
	var out [][]byte
	for {
		payload, ok := f.Next()
		if !ok {
			return out
		}
		out = append(out, payload)
	}
}

// HasHeader reports whether a full header block is buffered.
func (f *Framer) HasHeader() bool {
	return bytes.Contains(f.buf, headerTerminator)
}

func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Resyncs counts headers dropped for lacking a valid length.
func (f *Framer) Resyncs() int {
	return f.resyncs
}

func (f *Framer) consume(n int) {
	remaining := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:remaining]
}

// ContentLength returns the Content-Length named in a header block, or -1
// when it is missing or not an integer.
func ContentLength(header []byte) int {
	for _, line := range bytes.Split(header, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) < len(contentLengthKey) || !bytes.EqualFold(line[:len(contentLengthKey)], contentLengthKey) {
			continue
		}
		n, err := strconv.Atoi(string(bytes.TrimSpace(line[len(contentLengthKey):])))
		if err != nil {
			return -1
		}
		return n
	}
	return -1
}

// Write frames payload onto w and flushes it when w is buffered.
func Write(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if err := dap.WriteBaseMessage(w, payload); err != nil {
		return err
	}
	if bw, ok := w.(*bufio.Writer); ok {
		return bw.Flush()
	}
	return nil
}
