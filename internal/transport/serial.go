package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"

	"github.com/kstaniek/go-mavlink-telemetry/internal/logging"
	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
)

const (
	defaultBaud              = 57600
	defaultSerialReadTimeout = 100 * time.Millisecond
	rxBackoffMin             = 20 * time.Millisecond
	rxBackoffMax             = 500 * time.Millisecond
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

// OpenPort opens a serial device with a read timeout so Close is noticed
// even when the radio is silent.
func OpenPort(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// openSerialPort is a hook for tests.
var openSerialPort = OpenPort

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

type options struct {
	serialReadTimeout time.Duration
	log               *slog.Logger
}

func defaultOptions() options {
	return options{serialReadTimeout: defaultSerialReadTimeout}
}

// Option configures NewRegistry.
type Option func(*options)

// WithSerialReadTimeout sets the per-read timeout of serial ports.
func WithSerialReadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.serialReadTimeout = d
		}
	}
}

// WithLogger sets the logger used by transports that log retries.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// serialConn reads from a telemetry radio or autopilot USB port. Timeouts and
// transient errors are retried with bounded exponential backoff; a vanished
// device ends the stream.
type serialConn struct {
	port   Port
	name   string
	buf    []byte
	closed atomic.Bool
	log    *slog.Logger
}

// dialSerial accepts serial:///dev/ttyUSB0?baud=57600 and serial://COM3.
func dialSerial(_ context.Context, u *url.URL, o options) (Conn, error) {
	name := u.Path
	if name == "" {
		name = u.Host
	}
	if name == "" {
		return nil, fmt.Errorf("transport: serial target needs a device path")
	}
	baud := defaultBaud
	if s := u.Query().Get("baud"); s != "" {
		b, err := strconv.Atoi(s)
		if err != nil || b <= 0 {
			return nil, fmt.Errorf("transport: invalid baud %q", s)
		}
		baud = b
	}
	port, err := openSerialPort(name, baud, o.serialReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	l := o.log
	if l == nil {
		l = logging.L()
	}
	l.Info("serial_open", "device", name, "baud", baud)
	return &serialConn{port: port, name: name, buf: make([]byte, ReadBufSize), log: l}, nil
}

func (c *serialConn) ReadChunk() ([]byte, error) {
	backoff := rxBackoffMin
	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		n, err := c.port.Read(c.buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, c.buf[:n])
			return out, nil
		}
		if err == nil {
			continue
		}
		if c.closed.Load() {
			return nil, ErrClosed
		}
		var perr *os.PathError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("serial %s: %w", c.name, err) // device removed or fatal
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			continue // read timeout
		}
		metrics.IncError(metrics.ErrSerialRead)
		c.log.Warn("serial_read_error", "device", c.name, "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff *= 2
		if backoff > rxBackoffMax {
			backoff = rxBackoffMax
		}
	}
}

func (c *serialConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.port.Close()
}
