// Package transport turns a target URL into a byte-chunk source for the
// MAVLink parser. Chunk boundaries carry no meaning.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// ReadBufSize is the per-read buffer used by stream transports.
const ReadBufSize = 4096

var (
	// ErrUnsupportedScheme is returned for targets with an unknown scheme.
	ErrUnsupportedScheme = errors.New("transport: unsupported scheme")
	// ErrClosed is returned by ReadChunk after Close.
	ErrClosed = errors.New("transport: closed")
)

// Conn is an open link delivering raw bytes.
type Conn interface {
	// ReadChunk blocks until at least one byte is available or the link
	// fails. The returned slice is owned by the caller.
	ReadChunk() ([]byte, error)
	Close() error
}

// Dialer opens a Conn for a target address.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// DialFunc opens a Conn for an already parsed target.
type DialFunc func(ctx context.Context, u *url.URL) (Conn, error)

// Registry dispatches Dial by URL scheme.
type Registry struct {
	mu      sync.RWMutex
	schemes map[string]DialFunc
}

// NewRegistry returns a registry with every built-in scheme: ws, wss, tcp,
// udp, serial and pcap.
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	r := &Registry{schemes: make(map[string]DialFunc)}
	r.Register("ws", dialWebSocket)
	r.Register("wss", dialWebSocket)
	r.Register("tcp", dialTCP)
	r.Register("udp", dialUDP)
	r.Register("serial", func(ctx context.Context, u *url.URL) (Conn, error) { return dialSerial(ctx, u, o) })
	r.Register("pcap", dialPcap)
	return r
}

// Register installs or replaces the dialer for scheme.
func (r *Registry) Register(scheme string, fn DialFunc) {
	r.mu.Lock()
	r.schemes[strings.ToLower(scheme)] = fn
	r.mu.Unlock()
}

// Schemes lists the registered schemes.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemes))
	for s := range r.schemes {
		out = append(out, s)
	}
	return out
}

// Dial parses target and opens it with the matching scheme dialer.
func (r *Registry) Dial(ctx context.Context, target string) (Conn, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("transport: parse target %q: %w", target, err)
	}
	r.mu.RLock()
	fn, ok := r.schemes[strings.ToLower(u.Scheme)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)
	}
	return fn(ctx, u)
}

// IsClosed reports whether err is an orderly end of stream rather than a
// link failure.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// streamConn adapts a net.Conn style reader.
type streamConn struct {
	rc  io.ReadCloser
	buf []byte
}

func newStreamConn(rc io.ReadCloser) *streamConn {
	return &streamConn{rc: rc, buf: make([]byte, ReadBufSize)}
}

func (c *streamConn) ReadChunk() ([]byte, error) {
	for {
		n, err := c.rc.Read(c.buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, c.buf[:n])
			// Hand out the data now; a sticky error is returned on the next call.
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *streamConn) Close() error { return c.rc.Close() }

func dialTCP(ctx context.Context, u *url.URL) (Conn, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("transport: tcp target needs host:port")
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", u.Host, err)
	}
	return newStreamConn(nc), nil
}
