package mavlink

// Wire constants for MAVLink v1 and v2 framing.
const (
	MagicV1 = 0xFE
	MagicV2 = 0xFD

	HeaderLenV1  = 6
	HeaderLenV2  = 10
	ChecksumLen  = 2
	SignatureLen = 13

	// MaxFrameLen is a signed v2 frame with a 255-byte payload.
	MaxFrameLen = HeaderLenV2 + 255 + ChecksumLen + SignatureLen

	// IncompatFlagSigned marks a v2 frame that carries a signature block.
	IncompatFlagSigned = 0x01
)

// Header is the decoded frame header. IncompatFlags and CompatFlags are
// always zero for v1 frames.
type Header struct {
	Magic         uint8
	Len           uint8 // payload length
	IncompatFlags uint8
	CompatFlags   uint8
	Seq           uint8
	SysID         uint8
	CompID        uint8
	MsgID         uint32 // 8 bits in v1, 24 bits in v2
}

// Version returns 2 for v2 frames and 1 otherwise.
func (h Header) Version() int {
	if h.Magic == MagicV2 {
		return 2
	}
	return 1
}

// HeaderLen returns the on-wire header size implied by the magic byte.
func (h Header) HeaderLen() int {
	if h.Magic == MagicV2 {
		return HeaderLenV2
	}
	return HeaderLenV1
}

// Signed reports whether a v2 signature block follows the checksum.
func (h Header) Signed() bool {
	return h.Magic == MagicV2 && h.IncompatFlags&IncompatFlagSigned != 0
}

// FrameLen is the total number of bytes the frame occupies on the wire.
func (h Header) FrameLen() int {
	n := h.HeaderLen() + int(h.Len) + ChecksumLen
	if h.Signed() {
		n += SignatureLen
	}
	return n
}

// appendWire appends the header bytes (without magic) the way they appear on
// the wire. Used for checksum computation.
func (h Header) appendWire(b []byte) []byte {
	if h.Magic == MagicV2 {
		return append(b, h.Len, h.IncompatFlags, h.CompatFlags, h.Seq, h.SysID, h.CompID,
			byte(h.MsgID), byte(h.MsgID>>8), byte(h.MsgID>>16))
	}
	return append(b, h.Len, h.Seq, h.SysID, h.CompID, byte(h.MsgID))
}

// decodeHeader reads a header from data. The caller guarantees that data
// holds at least the header length for the given magic.
func decodeHeader(data []byte) Header {
	h := Header{Magic: data[0], Len: data[1]}
	if h.Magic == MagicV2 {
		h.IncompatFlags = data[2]
		h.CompatFlags = data[3]
		h.Seq = data[4]
		h.SysID = data[5]
		h.CompID = data[6]
		h.MsgID = uint32(data[7]) | uint32(data[8])<<8 | uint32(data[9])<<16
		return h
	}
	h.Seq = data[2]
	h.SysID = data[3]
	h.CompID = data[4]
	h.MsgID = uint32(data[5])
	return h
}

// Frame is one complete message sliced out of the stream. Payload and
// Signature are owned by the frame and never alias the parser backlog.
type Frame struct {
	Header    Header
	Payload   []byte
	Checksum  uint16 // raw little-endian value from the wire, not validated
	Signature []byte // nil unless Header.Signed()
}

// ComputeChecksum returns the X.25 checksum of the frame as the sender would
// have computed it for the given message CRC_EXTRA seed.
func (f Frame) ComputeChecksum(crcExtra byte) uint16 {
	buf := make([]byte, 0, HeaderLenV2+len(f.Payload))
	buf = f.Header.appendWire(buf)
	buf = append(buf, f.Payload...)
	crc := X25(buf)
	return x25Accumulate(crc, crcExtra)
}

// ChecksumOK validates the received checksum against crcExtra.
func (f Frame) ChecksumOK(crcExtra byte) bool {
	return f.ComputeChecksum(crcExtra) == f.Checksum
}
