package message

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Dump renders a payload for diagnostics: id, name, length, hex bytes and
// the first words read as uint32/int32/float32. It is meant for messages
// whose layout is unknown or suspected to be wrong.
func Dump(id uint32, payload []byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "msg=%d name=%s len=%d hex=%s", id, Name(id), len(payload), hex.EncodeToString(payload))
	p := le(payload)
	for off := 0; off <= 4; off += 4 {
		if !p.has(off, 4) {
			break
		}
		fmt.Fprintf(&sb, " u32@%d=%d i32@%d=%d f32@%d=%g", off, p.u32(off), off, p.i32(off), off, p.f32(off))
	}
	return sb.String()
}
