package mavlink

import (
	"bytes"
	"encoding/binary"

	"github.com/kstaniek/go-mavlink-telemetry/internal/metrics"
)

// Parser reassembles frames from a byte stream delivered in arbitrary chunks.
// The only state it carries is the backlog of bytes not yet consumed.
// A Parser is not safe for concurrent use; Ingest calls must be serialized.
type Parser struct {
	backlog bytes.Buffer
}

// Ingest appends chunk to the backlog and returns every complete frame that
// can be sliced out of it. Bytes preceding a magic byte are dropped as noise.
// An incomplete trailing frame stays buffered until more data arrives.
func (p *Parser) Ingest(chunk []byte) []Frame {
	if len(chunk) > 0 {
		_, _ = p.backlog.Write(chunk)
	}
	var frames []Frame
	for p.backlog.Len() > 0 {
		f, ok := p.next()
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	_ = compactBuffer(&p.backlog)
	return frames
}

// Buffered returns the number of backlog bytes waiting for completion.
func (p *Parser) Buffered() int { return p.backlog.Len() }

// Reset drops the backlog, e.g. when a new connection starts.
func (p *Parser) Reset() { p.backlog.Reset() }

// next extracts at most one frame from the head of the backlog.
func (p *Parser) next() (Frame, bool) {
	data := p.backlog.Bytes()
	start, isV2 := scanMagic(data)
	if start < 0 {
		metrics.AddDiscarded(len(data))
		p.backlog.Reset()
		return Frame{}, false
	}
	if start > 0 {
		metrics.AddDiscarded(start)
		p.backlog.Next(start)
		data = p.backlog.Bytes()
	}

	hlen := HeaderLenV1
	if isV2 {
		hlen = HeaderLenV2
	}
	if len(data) < hlen {
		return Frame{}, false
	}
	h := decodeHeader(data)
	total := h.FrameLen()
	if len(data) < total {
		return Frame{}, false
	}

	end := hlen + int(h.Len)
	f := Frame{
		Header:   h,
		Payload:  make([]byte, h.Len),
		Checksum: binary.LittleEndian.Uint16(data[end : end+ChecksumLen]),
	}
	copy(f.Payload, data[hlen:end])
	if h.Signed() {
		f.Signature = make([]byte, SignatureLen)
		copy(f.Signature, data[end+ChecksumLen:total])
	}
	p.backlog.Next(total)
	metrics.IncFrame(h.Version())
	return f, true
}

// scanMagic locates the frame start. The first v1 magic is remembered but the
// scan continues; a v2 magic anywhere in data wins and ends the scan.
//
// This means a complete v1 frame whose payload or checksum contains 0xFD is
// skipped in favour of the later v2 candidate. The behaviour is kept as-is
// for compatibility with existing ground tooling.
func scanMagic(data []byte) (int, bool) {
	v1 := -1
	for i, b := range data {
		switch b {
		case MagicV2:
			return i, true
		case MagicV1:
			if v1 < 0 {
				v1 = i
			}
		}
	}
	return v1, false
}

// maxIdleBacklog is the capacity kept behind a partial frame. Transports
// hand over chunks of up to 64 KiB; once such a chunk is consumed the backlog
// only ever holds the tail of one frame.
const maxIdleBacklog = 4 * MaxFrameLen

// compactBuffer moves a short backlog into a fresh buffer when the current
// one holds far more capacity than a frame needs. It returns true if
// compaction occurred.
func compactBuffer(b *bytes.Buffer) bool {
	if b.Cap() <= maxIdleBacklog || b.Len() > MaxFrameLen {
		return false
	}
	tail := append([]byte(nil), b.Bytes()...)
	*b = bytes.Buffer{}
	_, _ = b.Write(tail)
	return true
}
