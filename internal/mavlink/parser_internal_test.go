package mavlink

import (
	"bytes"
	"testing"
)

func TestCompactBuffer_ShrinksAfterLargeChunk(t *testing.T) {
	var p Parser
	// 64 KiB of noise, then the first four bytes of a v2 header.
	chunk := append(make([]byte, 64*1024), MagicV2, 0, 0, 0)
	if frames := p.Ingest(chunk); len(frames) != 0 {
		t.Fatalf("unexpected frames %v", frames)
	}
	if p.Buffered() != 4 {
		t.Fatalf("expected 4 buffered bytes, got %d", p.Buffered())
	}
	if c := p.backlog.Cap(); c > maxIdleBacklog {
		t.Fatalf("backlog capacity %d not compacted (limit %d)", c, maxIdleBacklog)
	}

	// seq, sysid, compid, msgid (3 bytes), checksum
	frames := p.Ingest([]byte{7, 1, 1, 0, 0, 0, 0x34, 0x12})
	if len(frames) != 1 {
		t.Fatalf("expected the split frame to complete, got %d", len(frames))
	}
	if frames[0].Header.Seq != 7 || frames[0].Checksum != 0x1234 {
		t.Fatalf("unexpected frame %+v", frames[0])
	}
}

func TestCompactBuffer_LeavesSmallBuffers(t *testing.T) {
	var b bytes.Buffer
	b.Write(make([]byte, 100))
	if compactBuffer(&b) {
		t.Fatalf("small buffer should not be compacted")
	}
	b.Reset()
	b.Grow(8 * MaxFrameLen)
	b.Write(make([]byte, MaxFrameLen+1))
	if compactBuffer(&b) {
		t.Fatalf("backlog longer than a frame should not be compacted")
	}
}
