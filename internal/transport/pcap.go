package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// packetSource is satisfied by both pcapgo readers.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// pcapConn replays UDP or TCP payloads from a capture file, pacing them by
// capture timestamps scaled by speed (0 replays as fast as possible).
type pcapConn struct {
	f     *os.File
	src   packetSource
	port  uint16 // 0 matches any port
	speed float64
	last  time.Time
	done  chan struct{}
	once  sync.Once
}

// dialPcap accepts pcap:///path/to/flight.pcap?speed=2&port=14550.
func dialPcap(_ context.Context, u *url.URL) (Conn, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		return nil, fmt.Errorf("transport: pcap target needs a file path")
	}
	q := u.Query()
	speed := 1.0
	if s := q.Get("speed"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("transport: invalid pcap speed %q", s)
		}
		speed = v
	}
	var port uint16
	if s := q.Get("port"); s != "" {
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("transport: invalid pcap port %q", s)
		}
		port = uint16(v)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	src, err := openPacketSource(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read pcap %s: %w", path, err)
	}
	return &pcapConn{f: f, src: src, port: port, speed: speed, done: make(chan struct{})}, nil
}

// openPacketSource detects classic pcap vs pcapng by trying the classic
// header first.
func openPacketSource(f *os.File) (packetSource, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	// pcapng section header block type
	if magic[0] == 0x0A && magic[1] == 0x0D && magic[2] == 0x0D && magic[3] == 0x0A {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

func (c *pcapConn) ReadChunk() ([]byte, error) {
	for {
		select {
		case <-c.done:
			return nil, ErrClosed
		default:
		}
		data, ci, err := c.src.ReadPacketData()
		if err != nil {
			select {
			case <-c.done:
				return nil, ErrClosed
			default:
			}
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("pcap: %w", err)
		}
		payload := c.payload(gopacket.NewPacket(data, c.src.LinkType(), gopacket.Default))
		if len(payload) == 0 {
			continue
		}
		if err := c.pace(ci.Timestamp); err != nil {
			return nil, err
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
}

func (c *pcapConn) payload(pkt gopacket.Packet) []byte {
	if l := pkt.Layer(layers.LayerTypeUDP); l != nil {
		if udp, ok := l.(*layers.UDP); ok && c.match(uint16(udp.SrcPort), uint16(udp.DstPort)) {
			return udp.Payload
		}
		return nil
	}
	if l := pkt.Layer(layers.LayerTypeTCP); l != nil {
		if tcp, ok := l.(*layers.TCP); ok && c.match(uint16(tcp.SrcPort), uint16(tcp.DstPort)) {
			return tcp.Payload
		}
	}
	return nil
}

func (c *pcapConn) match(src, dst uint16) bool {
	return c.port == 0 || src == c.port || dst == c.port
}

// pace sleeps for the scaled gap since the previous emitted packet.
func (c *pcapConn) pace(ts time.Time) error {
	defer func() { c.last = ts }()
	if c.speed == 0 || c.last.IsZero() {
		return nil
	}
	gap := time.Duration(float64(ts.Sub(c.last)) / c.speed)
	if gap <= 0 {
		return nil
	}
	t := time.NewTimer(gap)
	defer t.Stop()
	select {
	case <-c.done:
		return ErrClosed
	case <-t.C:
		return nil
	}
}

func (c *pcapConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.f.Close()
	})
	return err
}
