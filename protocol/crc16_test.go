package protocol

import "testing"

func TestCRC16KnownVectors(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{"empty", []byte{}, 0xFFFF},
		{"check string", []byte("123456789"), 0x6F91},
		{"ack seq 0x10", []byte{5, SeqDest}, 0x9E81},
		{"ack seq 0x11", []byte{5, SeqDest | 1}, 0x8F08},
	}

	for _, tc := range tests {
		if got := CRC16(tc.data); got != tc.expected {
			t.Errorf("%s: expected 0x%04X, got 0x%04X", tc.name, tc.expected, got)
		}
	}
}

func TestCRC16DetectsSingleBitFlip(t *testing.T) {
	data := []byte{0x08, 0x10, 0x01, 0x00, 0x28}
	base := CRC16(data)

	for i := range data {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), data...)
			flipped[i] ^= 1 << bit
			if CRC16(flipped) == base {
				t.Errorf("Flip of byte %d bit %d not detected", i, bit)
			}
		}
	}
}
