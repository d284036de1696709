package protocol

import "sync/atomic"

// Frame is one validated frame
type Frame struct {
	Seq     uint8
	Payload []byte // aliases the receive buffer unless copied
}

// IsAck reports whether the frame carries no payload (ACK/NAK)
func (f Frame) IsAck() bool {
	return len(f.Payload) == 0
}

// AppendFrame appends a complete frame around payload.
// The caller keeps payload within FramePayloadMax.
func AppendFrame(dst []byte, seq uint8, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, byte(len(payload)+FrameMinSize), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), FrameSync)
}

type frameStatus uint8

const (
	frameNeedMore frameStatus = iota
	frameValid
	frameInvalid
)

// checkFrame validates the frame at the front of data
func checkFrame(data []byte) (Frame, int, frameStatus) {
	if len(data) < FrameMinSize {
		return Frame{}, 0, frameNeedMore
	}
	n := int(data[0])
	if n < FrameMinSize || n > FrameMaxSize {
		return Frame{}, 0, frameInvalid
	}
	seq := data[1]
	if seq&^SeqMask != SeqDest {
		return Frame{}, 0, frameInvalid
	}
	if len(data) < n {
		return Frame{}, 0, frameNeedMore
	}
	if data[n-1] != FrameSync {
		return Frame{}, 0, frameInvalid
	}
	crc := uint16(data[n-3])<<8 | uint16(data[n-2])
	if CRC16(data[:n-FrameTrailerSize]) != crc {
		return Frame{}, 0, frameInvalid
	}
	return Frame{Seq: seq, Payload: data[FrameHeaderSize : n-FrameTrailerSize]}, n, frameValid
}

// frameScanner splits a byte stream into frames. After a bad frame it discards
// input up to and including the next sync byte.
type frameScanner struct {
	lost atomic.Bool
}

// scan consumes whole frames from data and returns the bytes used.
// onResync runs each time the scanner regains sync after an error.
func (s *frameScanner) scan(data []byte, onFrame func(Frame), onResync func()) int {
	used := 0
	for used < len(data) {
		rest := data[used:]

		if s.lost.Load() {
			i := 0
			for i < len(rest) && rest[i] != FrameSync {
				i++
			}
			if i == len(rest) {
				return len(data)
			}
			used += i + 1
			s.lost.Store(false)
			if onResync != nil {
				onResync()
			}
			continue
		}

		if rest[0] == FrameSync {
			used++
			continue
		}

		frame, n, status := checkFrame(rest)
		switch status {
		case frameNeedMore:
			return used
		case frameInvalid:
			s.lost.Store(true)
		case frameValid:
			used += n
			onFrame(frame)
		}
	}
	return used
}

func (s *frameScanner) reset() {
	s.lost.Store(false)
}

func (s *frameScanner) synchronized() bool {
	return !s.lost.Load()
}
