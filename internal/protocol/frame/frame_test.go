package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/danmuck/steploop/internal/testutil/testlog"
)

func encode(t *testing.T, payloads ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, p := range payloads {
		if err := Write(&buf, []byte(p)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	return buf.Bytes()
}

func TestWriteFrameHeader(t *testing.T) {
	testlog.Start(t)
	got := string(encode(t, `{"seq":1}`))
	want := "Content-Length: 9\r\n\r\n{\"seq\":1}"
	if got != want {
		t.Fatalf("frame=%q want=%q", got, want)
	}
}

func TestWriteFlushesBufferedWriter(t *testing.T) {
	testlog.Start(t)
	var sink bytes.Buffer
	bw := bufio.NewWriter(&sink)
	if err := Write(bw, []byte(`{}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if sink.Len() == 0 {
		t.Fatalf("expected flushed bytes")
	}
	if err := Write(bw, nil); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestFramerChunkingIsTransparent(t *testing.T) {
	testlog.Start(t)
	payloads := []string{
		`{"seq":1,"type":"event","event":"initialized"}`,
		`{"seq":2,"type":"response","request_seq":1,"success":true}`,
		`{"seq":3,"type":"event","event":"stopped","body":{"reason":"breakpoint","text":"ünïcode"}}`,
	}
	stream := encode(t, payloads...)

	whole := NewFramer()
	whole.Feed(stream)
	want := whole.Drain()
	if len(want) != len(payloads) {
		t.Fatalf("contiguous drain got %d payloads", len(want))
	}

	for size := 1; size <= len(stream); size++ {
		f := NewFramer()
		var got [][]byte
		for off := 0; off < len(stream); off += size {
			end := off + size
			if end > len(stream) {
				end = len(stream)
			}
			f.Feed(stream[off:end])
			got = append(got, f.Drain()...)
		}
		if len(got) != len(want) {
			t.Fatalf("chunk=%d got %d payloads want %d", size, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Fatalf("chunk=%d payload %d mismatch: %q vs %q", size, i, got[i], want[i])
			}
		}
		if f.Buffered() != 0 {
			t.Fatalf("chunk=%d left %d bytes buffered", size, f.Buffered())
		}
	}
}

func TestFramerResyncsOnMalformedHeaders(t *testing.T) {
	testlog.Start(t)
	var stream bytes.Buffer
	stream.WriteString("Content-Length: abc\r\n\r\n")
	stream.WriteString("Content-Length: 0\r\n\r\n")
	stream.WriteString("Content-Length: -4\r\n\r\n")
	stream.WriteString("X-Other: 1\r\n\r\n")
	stream.Write(encode(t, `{"seq":1}`))

	f := NewFramer()
	f.Feed(stream.Bytes())
	got := f.Drain()
	if len(got) != 1 || string(got[0]) != `{"seq":1}` {
		t.Fatalf("unexpected payloads after resync: %q", got)
	}
	if f.Resyncs() != 4 {
		t.Fatalf("resyncs=%d want=4", f.Resyncs())
	}
}

func TestFramerWaitsForFullPayload(t *testing.T) {
	testlog.Start(t)
	f := NewFramer()
	f.Feed([]byte("Content-Length: 10\r\n\r\n{\"a\":"))
	if _, ok := f.Next(); ok {
		t.Fatalf("payload should be incomplete")
	}
	if !f.HasHeader() {
		t.Fatalf("header should be buffered")
	}
	f.Feed([]byte("12}"))
	got, ok := f.Next()
	if !ok || string(got) != `{"a":12}` {
		t.Fatalf("unexpected payload %q ok=%v", got, ok)
	}
}

func TestFramerHeaderCaseAndExtraFields(t *testing.T) {
	testlog.Start(t)
	body := `{"seq":1}`
	f := NewFramer()
	f.Feed([]byte(fmt.Sprintf("content-type: application/json\r\nCONTENT-LENGTH:   %d  \r\n\r\n%s", len(body), body)))
	got, ok := f.Next()
	if !ok || string(got) != body {
		t.Fatalf("unexpected payload %q ok=%v", got, ok)
	}
}

func TestContentLength(t *testing.T) {
	testlog.Start(t)
	if n := ContentLength([]byte("Content-Length: 12")); n != 12 {
		t.Fatalf("n=%d", n)
	}
	if n := ContentLength([]byte("Content-Type: x")); n != -1 {
		t.Fatalf("missing length n=%d", n)
	}
	if n := ContentLength([]byte("Content-Length: 1.5")); n != -1 {
		t.Fatalf("fractional length n=%d", n)
	}
}
