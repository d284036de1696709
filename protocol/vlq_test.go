package protocol

import (
	"bytes"
	"testing"
)

func TestVLQRoundTripInt(t *testing.T) {
	values := []int32{
		0, 1, -1, 95, 96, -32, -33,
		12287, 12288, -4096, -4097,
		1000000, -1000000,
		1<<31 - 1, -1 << 31,
	}

	for _, v := range values {
		out := NewScratchOutput()
		EncodeVLQInt(out, v)

		data := out.Result()
		got, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("%d: decode failed: %v", v, err)
			continue
		}
		if got != v {
			t.Errorf("Expected %d, got %d (encoded %v)", v, got, out.Result())
		}
		if len(data) != 0 {
			t.Errorf("%d: %d bytes left over", v, len(data))
		}
	}
}

func TestVLQEncodingLengths(t *testing.T) {
	tests := []struct {
		v      int32
		length int
	}{
		{0, 1},
		{95, 1},  // 3<<5 - 1
		{96, 2},  // 3<<5
		{-32, 1}, // -(1<<5)
		{-33, 2},
		{12287, 2}, // 3<<12 - 1
		{12288, 3},
		{1<<31 - 1, 5},
		{-1 << 31, 5},
	}

	for _, tc := range tests {
		if got := len(AppendVLQInt(nil, tc.v)); got != tc.length {
			t.Errorf("%d: expected %d bytes, got %d", tc.v, tc.length, got)
		}
	}
}

func TestVLQKnownEncodings(t *testing.T) {
	tests := []struct {
		v        int32
		expected []byte
	}{
		{0, []byte{0x00}},
		{40, []byte{0x28}},
		{-1, []byte{0x7F}},
		{100, []byte{0x80, 0x64}},
		{1000, []byte{0x87, 0x68}},
	}

	for _, tc := range tests {
		if got := AppendVLQInt(nil, tc.v); !bytes.Equal(got, tc.expected) {
			t.Errorf("%d: expected %x, got %x", tc.v, tc.expected, got)
		}
	}
}

func TestVLQUintAboveInt31(t *testing.T) {
	out := NewScratchOutput()
	EncodeVLQUint(out, 0xFFFFFFF0)

	data := out.Result()
	got, err := DecodeVLQUint(&data)
	if err != nil || got != 0xFFFFFFF0 {
		t.Errorf("Expected 0xFFFFFFF0, got 0x%X (%v)", got, err)
	}
}

func TestVLQBytesAndStrings(t *testing.T) {
	out := NewScratchOutput()
	EncodeVLQBytes(out, []byte{0xFF, 0xFE})
	EncodeVLQString(out, "actuator_state")
	EncodeVLQBytes(out, nil)

	data := out.Result()
	b, err := DecodeVLQBytes(&data)
	if err != nil || !bytes.Equal(b, []byte{0xFF, 0xFE}) {
		t.Errorf("Expected [ff fe], got %v (%v)", b, err)
	}
	s, err := DecodeVLQString(&data)
	if err != nil || s != "actuator_state" {
		t.Errorf("Expected actuator_state, got %q (%v)", s, err)
	}
	empty, err := DecodeVLQBytes(&data)
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty byte string, got %v (%v)", empty, err)
	}
}

func TestVLQTruncated(t *testing.T) {
	data := []byte{0x80}
	if _, err := DecodeVLQInt(&data); err != ErrTruncated {
		t.Errorf("Expected ErrTruncated, got %v", err)
	}

	data = []byte{}
	if _, err := DecodeVLQUint(&data); err != ErrTruncated {
		t.Errorf("Expected ErrTruncated on empty input, got %v", err)
	}

	// Length prefix larger than the remaining data
	data = []byte{0x05, 0x01}
	if _, err := DecodeVLQBytes(&data); err != ErrTruncated {
		t.Errorf("Expected ErrTruncated for short byte string, got %v", err)
	}

	data = []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	if _, err := DecodeVLQInt(&data); err != ErrVLQTooLong {
		t.Errorf("Expected ErrVLQTooLong, got %v", err)
	}
}
