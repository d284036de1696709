// Package protocol implements the framed serial protocol spoken between the
// actuator firmware and the host: VLQ-encoded commands carried in CRC-checked,
// sequence-numbered frames.
package protocol

// Version is the firmware protocol version reported in the dictionary
const Version = "0.1.0"

// Frame layout: len seq payload... crc_hi crc_lo sync
const (
	FrameHeaderSize  = 2
	FrameTrailerSize = 3
	FrameMinSize     = FrameHeaderSize + FrameTrailerSize
	FrameMaxSize     = 64
	FramePayloadMax  = FrameMaxSize - FrameMinSize

	FrameSync = 0x7E

	// Sequence bytes carry the destination in the high nibble and a
	// 4-bit counter in the low nibble.
	SeqDest = 0x10
	SeqMask = 0x0F

	// OutputMax bounds the bytes the firmware may queue between flushes
	OutputMax = 512
)

// NextSeq advances a sequence byte, wrapping the counter and keeping the destination
func NextSeq(seq uint8) uint8 {
	return ((seq + 1) & SeqMask) | SeqDest
}
