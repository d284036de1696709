package protocol

// CRC16 is the CRC-16/MCRF4XX checksum (poly 0x1021 reflected, init 0xFFFF)
// that protects every frame.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc16Step(crc, b)
	}
	return crc
}

func crc16Step(crc uint16, b byte) uint16 {
	b ^= byte(crc)
	b ^= b << 4
	w := uint16(b)
	return (w<<8 | crc>>8) ^ w>>4 ^ w<<3
}
