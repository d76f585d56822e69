package mavlink

// X25 computes the CRC-16/MCRF4XX checksum MAVLink calls "X.25".
func X25(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = x25Accumulate(crc, b)
	}
	return crc
}

func x25Accumulate(crc uint16, b byte) uint16 {
	tmp := b ^ byte(crc)
	tmp ^= tmp << 4
	return (crc >> 8) ^ uint16(tmp)<<8 ^ uint16(tmp)<<3 ^ uint16(tmp)>>4
}
