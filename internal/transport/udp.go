package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// udpConn listens on a local port; ground stations conventionally receive
// vehicle telemetry on 14550. Every datagram is one chunk.
type udpConn struct {
	pc  net.PacketConn
	buf []byte
}

func dialUDP(ctx context.Context, u *url.URL) (Conn, error) {
	addr := u.Host
	if addr == "" {
		addr = ":14550"
	}
	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return &udpConn{pc: pc, buf: make([]byte, 65535)}, nil
}

func (c *udpConn) ReadChunk() ([]byte, error) {
	for {
		n, _, err := c.pc.ReadFrom(c.buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		out := make([]byte, n)
		copy(out, c.buf[:n])
		return out, nil
	}
}

func (c *udpConn) Close() error { return c.pc.Close() }

// LocalAddr is used by tests that listen on an ephemeral port.
func (c *udpConn) LocalAddr() net.Addr { return c.pc.LocalAddr() }
