package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"
)

// scriptPort replays a fixed sequence of reads and then repeats the last one.
type scriptPort struct {
	mu     sync.Mutex
	reads  []portRead
	closed bool
}

type portRead struct {
	data []byte
	err  error
}

func (p *scriptPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reads) == 0 {
		return 0, io.EOF
	}
	r := p.reads[0]
	if len(p.reads) > 1 {
		p.reads = p.reads[1:]
	}
	return copy(b, r.data), r.err
}

func (p *scriptPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func withPort(t *testing.T, p Port) {
	t.Helper()
	openSerialPort = func(string, int, time.Duration) (Port, error) { return p, nil }
	t.Cleanup(func() { openSerialPort = OpenPort })
}

func TestSerialBackoffProgression(t *testing.T) {
	withPort(t, &scriptPort{reads: []portRead{
		{err: io.ErrNoProgress}, {err: io.ErrNoProgress}, {err: io.ErrNoProgress},
		{err: io.ErrNoProgress}, {err: io.ErrNoProgress}, {err: io.ErrNoProgress},
		{err: io.ErrNoProgress}, {data: []byte{0xFE}},
	}})
	var seen []time.Duration
	sleepFn = func(d time.Duration) { seen = append(seen, d) }
	defer func() { sleepFn = time.Sleep }()

	conn, err := NewRegistry().Dial(context.Background(), "serial:///dev/fake?baud=115200")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	chunk, err := conn.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if len(chunk) != 1 || chunk[0] != 0xFE {
		t.Fatalf("unexpected chunk % x", chunk)
	}

	if len(seen) != 7 {
		t.Fatalf("expected 7 backoff samples, got %d", len(seen))
	}
	prev := rxBackoffMin / 4
	for i, d := range seen {
		if d < prev {
			t.Fatalf("backoff decreased at %d: prev=%v cur=%v", i, prev, d)
		}
		if d > rxBackoffMax {
			t.Fatalf("backoff exceeded max at %d: %v > %v", i, d, rxBackoffMax)
		}
		prev = d
	}
	if seen[0] != rxBackoffMin {
		t.Fatalf("expected first backoff %v got %v", rxBackoffMin, seen[0])
	}
	if seen[len(seen)-1] != rxBackoffMax {
		t.Fatalf("expected backoff to saturate at %v, got %v", rxBackoffMax, seen[len(seen)-1])
	}
}

func TestSerialTimeoutRetriesWithoutBackoff(t *testing.T) {
	withPort(t, &scriptPort{reads: []portRead{
		{err: io.EOF}, {err: io.ErrUnexpectedEOF}, {}, {data: []byte{1, 2, 3}},
	}})
	sleepFn = func(d time.Duration) { t.Fatalf("unexpected backoff %v", d) }
	defer func() { sleepFn = time.Sleep }()

	conn, err := NewRegistry().Dial(context.Background(), "serial:///dev/fake")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	chunk, err := conn.ReadChunk()
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if string(chunk) != string([]byte{1, 2, 3}) {
		t.Fatalf("unexpected chunk % x", chunk)
	}
}

func TestSerialDeviceRemovedIsFatal(t *testing.T) {
	withPort(t, &scriptPort{reads: []portRead{
		{err: &os.PathError{Op: "read", Path: "/dev/fake", Err: os.ErrNotExist}},
	}})
	conn, err := NewRegistry().Dial(context.Background(), "serial:///dev/fake")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_, err = conn.ReadChunk()
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
	if IsClosed(err) {
		t.Fatalf("device removal must not look like an orderly close")
	}
}

func TestSerialCloseStopsReads(t *testing.T) {
	p := &scriptPort{}
	withPort(t, p)
	conn, err := NewRegistry().Dial(context.Background(), "serial:///dev/fake")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !p.closed {
		t.Fatalf("port not closed")
	}
	if _, err := conn.ReadChunk(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSerialDialValidation(t *testing.T) {
	withPort(t, &scriptPort{})
	r := NewRegistry()
	if _, err := r.Dial(context.Background(), "serial:///dev/fake?baud=fast"); err == nil {
		t.Fatalf("expected invalid baud error")
	}
	if _, err := r.Dial(context.Background(), "serial://"); err == nil {
		t.Fatalf("expected missing device error")
	}

	var gotName string
	var gotBaud int
	var gotTO time.Duration
	openSerialPort = func(name string, baud int, to time.Duration) (Port, error) {
		gotName, gotBaud, gotTO = name, baud, to
		return &scriptPort{}, nil
	}
	r = NewRegistry(WithSerialReadTimeout(250 * time.Millisecond))
	c, err := r.Dial(context.Background(), "serial:///dev/ttyACM0")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.Close()
	if gotName != "/dev/ttyACM0" || gotBaud != defaultBaud || gotTO != 250*time.Millisecond {
		t.Fatalf("unexpected open args name=%s baud=%d timeout=%v", gotName, gotBaud, gotTO)
	}
}
